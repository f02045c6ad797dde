// Package idempotency хранит ответы на повторяемые запросы checkout
// и удаляет просроченные ключи.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	defaultCleanupInterval  = time.Minute
	defaultCleanupBatchSize = 500
)

var (
	cleanupSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_idempotency_cleanup_runs_total",
		Help: "Idempotency key sweeps grouped by result.",
	}, []string{"result"})
	cleanupDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shop_idempotency_cleanup_deleted_total",
		Help: "Expired checkout idempotency keys removed.",
	})
	cleanupLastSweep = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shop_idempotency_cleanup_last_deleted",
		Help: "Keys removed by the most recent sweep.",
	})
)

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithInterval задает паузу между проходами. Значения <= 0 игнорируются.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize ограничивает число ключей, удаляемых за одно обращение к хранилищу.
func WithBatchSize(batchSize int) CleanupOption {
	return func(w *CleanupWorker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithCleanupClock подменяет источник времени, относительно которого ключ считается просроченным.
func WithCleanupClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// CleanupWorker удаляет ключи, чей TTL истёк, чтобы Guard не рос бесконечно.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewCleanupWorker создает воркер очистки idempotency ключей.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:      repo,
		logger:    log.WithField("component", "idempotency-cleanup-worker"),
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run делает проход сразу и затем раз в interval, пока не отменён ctx. Возвращает nil при остановке.
func (w *CleanupWorker) Run(ctx context.Context) error {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.sweep(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) sweep(ctx context.Context) {
	deleted, err := w.DeleteExpired(ctx, w.now())
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		cleanupSweeps.WithLabelValues("error").Inc()
		w.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency cleanup run failed")
		return
	}

	cleanupSweeps.WithLabelValues("ok").Inc()
	cleanupLastSweep.Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("expired checkout keys removed")
	}
}

// DeleteExpired удаляет все записи с ttl <= before порциями batchSize.
// Нулевой before означает "сейчас" по часам воркера.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now()
	}

	total := 0
	for ctx.Err() == nil {
		deleted, err := w.repo.DeleteExpired(before, w.batchSize)
		total += deleted
		cleanupDeleted.Add(float64(deleted))
		if err != nil {
			return total, err
		}
		// Неполная порция значит, что просроченных ключей больше нет.
		if deleted < w.batchSize {
			return total, nil
		}
	}
	return total, ctx.Err()
}
