package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const defaultTTL = 24 * time.Hour

// Response: ответ checkout, который Guard сохраняет и отдаёт на повторы.
type Response = domain.CheckoutResponse

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithTTL задаёт время жизни ключа.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardClock подменяет источник времени.
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithGuardLogger задаёт logger.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Guard выполняет операцию не более одного раза на ключ и отдаёт сохранённый
// ответ на повторы с тем же телом запроса.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// NewGuard создаёт Guard поверх репозитория. nil-репозиторий отключает дедупликацию.
func NewGuard(repo domain.IdempotencyRepository, options ...GuardOption) *Guard {
	g := &Guard{
		repo:   repo,
		ttl:    defaultTTL,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.WithField("component", "idempotency-guard"),
	}
	for _, option := range options {
		option(g)
	}
	return g
}

// Fingerprint считает sha256 от частей запроса, разделённых ':'.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}

// Do выполняет fn под ключом key. replayed=true, если ответ взят из кеша.
//
// Возвращает domain.ErrIdempotencyHashMismatch, если ключ занят другим запросом,
// и domain.ErrIdempotencyInProgress, если первый запрос ещё не завершился.
func (g *Guard) Do(key, fingerprint string, fn func() Response) (resp Response, replayed bool, err error) {
	if g.repo == nil {
		return fn(), false, nil
	}

	record, err := g.repo.Reserve(key, fingerprint, g.now().Add(g.ttl))
	if err != nil {
		return g.replay(err, record)
	}

	resp = fn()
	if err := g.repo.Complete(key, resp); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}

	return resp, false, nil
}

func (g *Guard) replay(createErr error, record domain.IdempotencyRecord) (Response, bool, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Response{}, false, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusProcessing:
			return Response{}, false, domain.ErrIdempotencyInProgress
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			if record.Response.Status == 0 {
				return Response{}, false, fmt.Errorf("idempotency record %q has no cached response", record.Key)
			}
			return record.Response, true, nil
		default:
			return Response{}, false, fmt.Errorf("unknown idempotency record status %q", record.Status)
		}
	default:
		return Response{}, false, fmt.Errorf("create idempotency record: %w", createErr)
	}
}
