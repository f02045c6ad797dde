package memory

import (
	"testing"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

func TestOutboxRepository_EnqueueAndPull(t *testing.T) {
	repo := NewOutboxRepository()

	msg := domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-1",
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(`{"orderId":"order-1"}`),
	}

	saved, err := repo.Enqueue(msg)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected generated id")
	}
	if saved.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending message, got %d", len(pending))
	}
	if pending[0].ID != saved.ID {
		t.Fatalf("expected same message id, got %s", pending[0].ID)
	}
}

func TestOutboxRepository_PullPendingKeepsOrder(t *testing.T) {
	repo := NewOutboxRepository()

	var ids []string
	for i := 0; i < 5; i++ {
		saved, err := repo.Enqueue(domain.OutboxMessage{EventType: domain.EventOrderCreated})
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		ids = append(ids, saved.ID)
	}

	pending, err := repo.PullPending(3)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(pending))
	}
	for i, msg := range pending {
		if msg.ID != ids[i] {
			t.Fatalf("message %d: expected %s, got %s", i, ids[i], msg.ID)
		}
	}
}

func TestOutboxRepository_MarkSentAndFailed(t *testing.T) {
	repo := NewOutboxRepository()

	first, err := repo.Enqueue(domain.OutboxMessage{AggregateType: domain.AggregateOrder})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	second, err := repo.Enqueue(domain.OutboxMessage{AggregateType: domain.AggregateDiscount})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if err := repo.MarkSent(first.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 1 {
		t.Fatalf("expected 1 pending, got %d", stats.PendingCount)
	}
	if !stats.OldestPendingAt.Equal(second.CreatedAt) {
		t.Fatalf("unexpected oldest pending time %s", stats.OldestPendingAt)
	}

	if err := repo.MarkFailed(second.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := repo.MarkFailed("missing"); err == nil {
		t.Fatal("expected error for missing record")
	}

	stats, err = repo.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 0 || !stats.OldestPendingAt.IsZero() {
		t.Fatalf("expected empty backlog, got %+v", stats)
	}
}
