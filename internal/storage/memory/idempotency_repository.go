package memory

import (
	"container/heap"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

// expiryEntry: ключ и срок, с которым он попал в очередь. Если ключ потом
// перезаняли с другим сроком, запись в очереди устаревает и пропускается.
type expiryEntry struct {
	key       string
	expiresAt time.Time
}

type expiryQueue []expiryEntry

func (q expiryQueue) Len() int           { return len(q) }
func (q expiryQueue) Less(i, j int) bool { return q[i].expiresAt.Before(q[j].expiresAt) }
func (q expiryQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *expiryQueue) Push(x any)        { *q = append(*q, x.(expiryEntry)) }
func (q *expiryQueue) Pop() any {
	old := *q
	last := old[len(old)-1]
	*q = old[:len(old)-1]
	return last
}

// checkoutReplayStore держит ответы checkout и очередь истечения ключей.
type checkoutReplayStore struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
	expiry  expiryQueue
	now     func() time.Time
}

// NewIdempotencyRepository создаёт in-memory хранилище ответов checkout.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return newIdempotencyRepository(func() time.Time { return time.Now().UTC() })
}

func newIdempotencyRepository(now func() time.Time) *checkoutReplayStore {
	return &checkoutReplayStore{
		records: make(map[string]domain.IdempotencyRecord),
		now:     now,
	}
}

// Reserve занимает ключ. Истёкшая запись считается свободной, даже если очистка до неё не дошла.
func (s *checkoutReplayStore) Reserve(key, requestHash string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultIdempotencyTTL)
	}

	if held, ok := s.live(key, now); ok {
		if held.RequestHash != requestHash {
			return copyRecord(held), domain.ErrIdempotencyHashMismatch
		}
		return copyRecord(held), domain.ErrIdempotencyKeyAlreadyExists
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.records[key] = record
	heap.Push(&s.expiry, expiryEntry{key: key, expiresAt: expiresAt})

	return copyRecord(record), nil
}

// Complete сохраняет ответ для повторов. Ключ должен быть занят и ещё не истечь.
func (s *checkoutReplayStore) Complete(key string, resp domain.CheckoutResponse) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	record, ok := s.live(key, now)
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}

	record.Status = resp.Outcome()
	record.Response = resp.Clone()
	record.UpdatedAt = now
	s.records[key] = record
	return nil
}

func (s *checkoutReplayStore) Get(key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.live(key, s.now())
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(record), nil
}

// DeleteExpired снимает с очереди истёкшие ключи, начиная с самых старых.
func (s *checkoutReplayStore) DeleteExpired(before time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if before.IsZero() {
		before = s.now()
	}

	removed := 0
	for s.expiry.Len() > 0 && (limit <= 0 || removed < limit) {
		head := s.expiry[0]
		if head.expiresAt.After(before) {
			break
		}
		heap.Pop(&s.expiry)

		record, ok := s.records[head.key]
		if !ok || !record.ExpiresAt.Equal(head.expiresAt) {
			continue
		}
		delete(s.records, head.key)
		removed++
	}
	return removed, nil
}

func (s *checkoutReplayStore) live(key string, now time.Time) (domain.IdempotencyRecord, bool) {
	record, ok := s.records[key]
	if !ok || record.Expired(now) {
		return domain.IdempotencyRecord{}, false
	}
	return record, true
}

func copyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	src.Response = src.Response.Clone()
	return src
}

var _ domain.IdempotencyRepository = (*checkoutReplayStore)(nil)
