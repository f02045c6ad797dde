package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shop/internal/service/outbox"
)

// publishers: куда outbox worker отправляет события и куда уходят недоставленные.
type publishers struct {
	main     domain.OutboxPublisher
	dlq      domain.OutboxPublisher
	producer *kafka.Producer
}

// initPublishers подключает Kafka, если заданы брокеры. При ошибке подключения
// сервис продолжает работу с публикацией в лог.
func initPublishers(cfg Config, logger *log.Entry) publishers {
	fallback := publishers{main: outbox.NewLogPublisher(logger.WithField("component", "outbox-log-publisher"))}
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("kafka brokers are not configured, outbox events go to log")
		return fallback
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers, logger.WithField("component", "kafka-producer"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return fallback
	}

	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
	return publishers{
		main:     kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		dlq:      kafka.NewDLQPublisher(producer),
		producer: producer,
	}
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
