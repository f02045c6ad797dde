package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

func orderCreatedMessage(id string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-" + id,
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(`{"orderId":"order-` + id + `"}`),
	}
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{orderCreatedMessage("msg-1")}}
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))

	res := worker.ProcessOnce(context.Background())

	require.Equal(t, BatchResult{Sent: 1}, res)
	require.Equal(t, []string{"msg-1"}, repo.sentIDs)
	require.Empty(t, repo.failedIDs)
	require.Equal(t, 1, publisher.calls())
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{{
		ID:            "msg-2",
		AggregateType: domain.AggregateDiscount,
		AggregateID:   "DISCOUNT-ABC",
		EventType:     domain.EventDiscountGenerated,
		Payload:       []byte(`{"code":"DISCOUNT-ABC"}`),
	}}}
	publisher := &stubPublisher{err: errors.New("broker unavailable")}
	dlqPublisher := &stubPublisher{}

	worker := NewWorker(repo, publisher,
		WithDLQPublisher(dlqPublisher),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)

	res := worker.ProcessOnce(context.Background())

	require.Equal(t, BatchResult{Failed: 1}, res)
	require.Equal(t, 3, publisher.calls())
	require.Empty(t, repo.sentIDs)
	require.Equal(t, []string{"msg-2"}, repo.failedIDs)
	require.Equal(t, 1, dlqPublisher.calls())

	var envelope DeadLetter
	require.NoError(t, json.Unmarshal(dlqPublisher.last().Payload, &envelope))
	require.Equal(t, "msg-2", envelope.OutboxID)
	require.Equal(t, domain.EventDiscountGenerated, envelope.EventType)
	require.JSONEq(t, `{"code":"DISCOUNT-ABC"}`, string(envelope.Payload))
	require.Contains(t, envelope.PublishError, "broker unavailable")
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{orderCreatedMessage("msg-3")}}
	publisher := &stubPublisher{
		sequenceErrors: []error{
			errors.New("attempt 1"),
			errors.New("attempt 2"),
			nil,
		},
	}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))

	res := worker.ProcessOnce(context.Background())

	require.Equal(t, BatchResult{Sent: 1}, res)
	require.Equal(t, 3, publisher.calls())
	require.Len(t, repo.sentIDs, 1)
	require.Empty(t, repo.failedIDs)
}

func TestWorker_ProcessOnce_PublishesLedgerEvents(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	store := memory.NewLedgerStore(memory.WithThreshold(1), memory.WithOutbox(repo))

	_, code, err := store.CreateOrder(domain.Order{
		UserID:     "user-1",
		Items:      []domain.CartItem{{ProductID: "p", Qty: 1, PriceMinor: 100}},
		TotalMinor: 100,
		FinalMinor: 100,
	})
	require.NoError(t, err)
	require.NotEmpty(t, code)

	publisher := &stubPublisher{}
	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0))

	res := worker.ProcessOnce(context.Background())
	require.Equal(t, BatchResult{Sent: 2}, res)
	require.Equal(t, []string{domain.EventOrderCreated, domain.EventDiscountGenerated}, publisher.eventTypes())

	stats, err := repo.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)

	// Повторный цикл ничего не публикует.
	require.Equal(t, BatchResult{}, worker.ProcessOnce(context.Background()))
}

func TestWorker_RetryBackoffDoubles(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithRetryBaseDelay(10*time.Millisecond))
	require.Equal(t, 10*time.Millisecond, worker.retryBackoff(1))
	require.Equal(t, 20*time.Millisecond, worker.retryBackoff(2))
	require.Equal(t, 40*time.Millisecond, worker.retryBackoff(3))

	noDelay := NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithRetryBaseDelay(0))
	require.Zero(t, noDelay.retryBackoff(5))
}

func TestWorker_Run_StopsOnContextCancelAndFlushes(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher,
		WithPollInterval(time.Hour),
		WithRetryBaseDelay(0),
		WithFlushTimeout(time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx)
	}()

	// Первый цикл уже прошёл или идёт; событие появится только к финальной выгрузке.
	time.Sleep(10 * time.Millisecond)
	_, err := repo.Enqueue(orderCreatedMessage("late"))
	require.NoError(t, err)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
	require.Equal(t, 1, publisher.calls())
}

func TestWorker_Run_DisabledWithoutPublisher(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&stubOutboxRepo{}, nil)
	require.NoError(t, worker.Run(context.Background()))
}

func TestLogPublisher_NeverFails(t *testing.T) {
	t.Parallel()

	require.NoError(t, NewLogPublisher(nil).Publish(orderCreatedMessage("msg-log")))
}

type stubOutboxRepo struct {
	pending   []domain.OutboxMessage
	sentIDs   []string
	failedIDs []string
}

func (s *stubOutboxRepo) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	s.pending = append(s.pending, msg)
	return msg, nil
}

func (s *stubOutboxRepo) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 || limit >= len(s.pending) {
		return append([]domain.OutboxMessage(nil), s.pending...), nil
	}
	return append([]domain.OutboxMessage(nil), s.pending[:limit]...), nil
}

func (s *stubOutboxRepo) Stats() (domain.OutboxStats, error) {
	stats := domain.OutboxStats{PendingCount: len(s.pending)}
	if len(s.pending) > 0 {
		stats.OldestPendingAt = time.Now().UTC().Add(-time.Second)
	}
	return stats, nil
}

func (s *stubOutboxRepo) MarkSent(id string) error {
	s.sentIDs = append(s.sentIDs, id)
	return nil
}

func (s *stubOutboxRepo) MarkFailed(id string) error {
	s.failedIDs = append(s.failedIDs, id)
	return nil
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	published      []domain.OutboxMessage
	callCount      int
}

func (s *stubPublisher) Publish(event domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	err := s.err
	if len(s.sequenceErrors) > 0 {
		err = s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
	}
	if err == nil {
		s.published = append(s.published, event)
	}
	return err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubPublisher) last() domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published[len(s.published)-1]
}

func (s *stubPublisher) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.published))
	for _, event := range s.published {
		types = append(types, event.EventType)
	}
	return types
}

var _ domain.OutboxRepository = (*stubOutboxRepo)(nil)
var _ domain.OutboxPublisher = (*stubPublisher)(nil)
