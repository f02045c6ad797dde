package app

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/health"
	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/service/admin"
	"github.com/vladislavdragonenkov/shop/internal/service/checkout"
	"github.com/vladislavdragonenkov/shop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/shop/internal/service/outbox"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
	"github.com/vladislavdragonenkov/shop/internal/version"
)

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Store           domain.LedgerStore
	OutboxRepo      domain.OutboxRepository
	IdempotencyRepo domain.IdempotencyRepository

	Checkout *checkout.Service
	Admin    *admin.Service
	Guard    *idempotency.Guard
	Metrics  *metrics.CheckoutMetrics

	OutboxWorker  *outbox.Worker
	CleanupWorker *idempotency.CleanupWorker
	Health        *health.Handler

	Producer *kafka.Producer
	Logger   *log.Entry
}

// NewDependencies создаёт и связывает все компоненты приложения.
func NewDependencies(cfg Config, logger *log.Entry) *Dependencies {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	outboxRepo := memory.NewOutboxRepository()
	idemRepo := memory.NewIdempotencyRepository()
	store := memory.NewLedgerStore(
		memory.WithThreshold(cfg.NthOrderThreshold),
		memory.WithDiscountPercentage(cfg.DiscountPercentage),
		memory.WithOutbox(outboxRepo),
		memory.WithLogger(logger.WithField("component", "ledger-store")),
	)

	checkoutMetrics := metrics.NewCheckoutMetrics()
	pubs := initPublishers(cfg, logger)

	workerOptions := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if pubs.dlq != nil {
		workerOptions = append(workerOptions, outbox.WithDLQPublisher(pubs.dlq))
	}

	healthHandler := health.NewHandler(version.Version())
	healthHandler.RegisterChecker("ledger", health.NewSimpleChecker("ledger", func() error {
		return checkLedgerLock(store, ledgerLockTimeout)
	}))
	healthHandler.RegisterChecker("outbox", health.NewBacklogChecker("outbox", func() (int, time.Time, error) {
		stats, err := outboxRepo.Stats()
		return stats.PendingCount, stats.OldestPendingAt, err
	}, cfg.OutboxMaxPending, cfg.OutboxMaxAge))

	return &Dependencies{
		Store:           store,
		OutboxRepo:      outboxRepo,
		IdempotencyRepo: idemRepo,
		Checkout: checkout.NewService(store,
			checkout.WithMetrics(checkoutMetrics),
			checkout.WithLogger(logger.WithField("component", "checkout")),
		),
		Admin: admin.NewService(store),
		Guard: idempotency.NewGuard(idemRepo,
			idempotency.WithTTL(cfg.IdempotencyTTL),
			idempotency.WithGuardLogger(logger.WithField("component", "idempotency-guard")),
		),
		Metrics:      checkoutMetrics,
		OutboxWorker: outbox.NewWorker(outboxRepo, pubs.main, workerOptions...),
		CleanupWorker: idempotency.NewCleanupWorker(idemRepo,
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup-worker")),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		),
		Health:   healthHandler,
		Producer: pubs.producer,
		Logger:   logger,
	}
}

const ledgerLockTimeout = time.Second

// checkLedgerLock проверяет, что блокировка хранилища освобождается за timeout.
func checkLedgerLock(store domain.LedgerStore, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		_ = store.Atomic(func(domain.LedgerTx) error { return nil })
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("ledger lock is not released within %s", timeout)
	}
}

// Close освобождает внешние ресурсы.
func (d *Dependencies) Close() {
	closeKafka(d.Producer, d.Logger)
}
