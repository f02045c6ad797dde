package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// Переменные окружения shop-service.
const (
	EnvHTTPAddr           = "SHOP_HTTP_ADDR"
	EnvGRPCAddr           = "SHOP_GRPC_ADDR"
	EnvMetricsAddr        = "SHOP_METRICS_ADDR"
	EnvNthOrderThreshold  = "NTH_ORDER_THRESHOLD"
	EnvDiscountPercentage = "DISCOUNT_PERCENTAGE"
	EnvKafkaBrokers       = "KAFKA_BROKERS"
	EnvKafkaTopic         = "SHOP_KAFKA_TOPIC"
	EnvLogLevel           = "SHOP_LOG_LEVEL"
	EnvOutboxPoll         = "SHOP_OUTBOX_POLL_INTERVAL"
	EnvIdempotencyTTL     = "SHOP_IDEMPOTENCY_TTL"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	NthOrderThreshold  int64
	DiscountPercentage int

	// Пустой список брокеров отключает Kafka: события outbox пишутся в лог.
	KafkaBrokers []string
	// Пустой topic: маршрутизация по типу агрегата.
	KafkaTopic string

	LogLevel        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int
	OutboxMaxAge       time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		NthOrderThreshold:  domain.DefaultNthOrderThreshold,
		DiscountPercentage: domain.DefaultDiscountPercentage,

		LogLevel:        "info",
		RequestTimeout:  15 * time.Second,
		ShutdownTimeout: 5 * time.Second,

		OutboxPollInterval: 500 * time.Millisecond,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,
		OutboxMaxPending:   1000,
		OutboxMaxAge:       time.Minute,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// Validate проверяет значения, без которых сервис не должен стартовать.
func (c Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.HTTPAddr) == "" {
		problems = append(problems, "http addr is required")
	}
	if strings.TrimSpace(c.GRPCAddr) == "" {
		problems = append(problems, "grpc addr is required")
	}
	if strings.TrimSpace(c.MetricsAddr) == "" {
		problems = append(problems, "metrics addr is required")
	}
	if c.NthOrderThreshold < 1 {
		problems = append(problems, fmt.Sprintf("nth order threshold must be >= 1, got %d", c.NthOrderThreshold))
	}
	if !domain.ValidPercentage(c.DiscountPercentage) {
		problems = append(problems, fmt.Sprintf("discount percentage must be within 0..100, got %d", c.DiscountPercentage))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("invalid log level %q", c.LogLevel))
	}
	if c.OutboxPollInterval <= 0 {
		problems = append(problems, "outbox poll interval must be > 0")
	}
	if c.IdempotencyTTL <= 0 {
		problems = append(problems, "idempotency ttl must be > 0")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Отсутствующие NTH_ORDER_THRESHOLD и DISCOUNT_PERCENTAGE не ошибка: берутся значения по умолчанию
// с предупреждением в лог. Нечисловые значения: ошибка.
func ConfigFromEnv(getenv func(string) string, logger *log.Entry) (Config, error) {
	if logger == nil {
		logger = log.WithField("component", "config")
	}
	cfg := DefaultConfig()

	setString(&cfg.HTTPAddr, getenv(EnvHTTPAddr))
	setString(&cfg.GRPCAddr, getenv(EnvGRPCAddr))
	setString(&cfg.MetricsAddr, getenv(EnvMetricsAddr))
	setString(&cfg.KafkaTopic, getenv(EnvKafkaTopic))
	setString(&cfg.LogLevel, getenv(EnvLogLevel))
	cfg.KafkaBrokers = splitList(getenv(EnvKafkaBrokers))

	if raw := strings.TrimSpace(getenv(EnvNthOrderThreshold)); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvNthOrderThreshold, err)
		}
		cfg.NthOrderThreshold = n
	} else {
		logger.WithField("default", cfg.NthOrderThreshold).Warnf("%s is not set, using default", EnvNthOrderThreshold)
	}

	if raw := strings.TrimSpace(getenv(EnvDiscountPercentage)); raw != "" {
		pct, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvDiscountPercentage, err)
		}
		cfg.DiscountPercentage = pct
	} else {
		logger.WithField("default", cfg.DiscountPercentage).Warnf("%s is not set, using default", EnvDiscountPercentage)
	}

	if err := setDuration(&cfg.OutboxPollInterval, EnvOutboxPoll, getenv(EnvOutboxPoll)); err != nil {
		return Config{}, err
	}
	if err := setDuration(&cfg.IdempotencyTTL, EnvIdempotencyTTL, getenv(EnvIdempotencyTTL)); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

func setString(dst *string, raw string) {
	if v := strings.TrimSpace(raw); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, name, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = d
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
