package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в Kafka.
// Пустой topic означает маршрутизацию по типу агрегата (см. TopicFor).
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	topic := p.topic
	if topic == "" {
		topic = TopicFor(event.AggregateType)
	}

	return p.producer.PublishEvent(topic, messageKey(event), newEnvelope(event), map[string]string{
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
		HeaderOutboxID:      event.ID,
	})
}

// DLQPublisher отправляет недоставленные события в dead letter topic.
type DLQPublisher struct {
	producer *Producer
	topic    string
}

// NewDLQPublisher создаёт паблишер для DLQ.
func NewDLQPublisher(producer *Producer) *DLQPublisher {
	return &DLQPublisher{producer: producer, topic: TopicDeadLetterQueue}
}

func (p *DLQPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dlq publisher is not initialized")
	}

	return p.producer.PublishEvent(p.topic, messageKey(event), newEnvelope(event), map[string]string{
		HeaderEventType:     event.EventType,
		HeaderOutboxID:      event.ID,
		HeaderOriginalTopic: TopicFor(event.AggregateType),
		HeaderFailedAt:      time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// messageKey держит события одного заказа или купона в одной партиции.
func messageKey(event domain.OutboxMessage) string {
	if event.AggregateID != "" {
		return event.AggregateID
	}
	return event.ID
}

func newEnvelope(event domain.OutboxMessage) Envelope {
	return Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	}
}

var (
	_ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
	_ domain.OutboxPublisher = (*DLQPublisher)(nil)
)
