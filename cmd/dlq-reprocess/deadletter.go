package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shop/internal/service/outbox"
)

// errForeignMessage: сообщение в DLQ записано не outbox worker'ом магазина.
var errForeignMessage = errors.New("not a shop dead letter")

// deadLetter: разобранная запись DLQ вместе с topic, из которого событие выпало.
type deadLetter struct {
	outbox.DeadLetter
	originalTopic string
}

// decodeDeadLetter разворачивает конверт DLQ-сообщения. Конверт без payload
// или не JSON даёт errForeignMessage. Для повреждённой записи магазина вместе с ошибкой
// возвращается тип события из конверта, чтобы её можно было учесть в отчёте.
func decodeDeadLetter(msg *sarama.ConsumerMessage) (deadLetter, error) {
	var envelope kafka.Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || envelope.EventType == "" || len(envelope.Payload) == 0 {
		return deadLetter{}, errForeignMessage
	}

	var dl deadLetter
	broken := deadLetter{DeadLetter: outbox.DeadLetter{EventType: envelope.EventType}}
	if err := json.Unmarshal(envelope.Payload, &dl.DeadLetter); err != nil {
		return broken, fmt.Errorf("decode dead letter: %w", err)
	}
	if len(dl.Payload) == 0 {
		return broken, errors.New("dead letter has no event payload")
	}

	if dl.OutboxID == "" {
		dl.OutboxID = envelope.ID
	}
	if dl.AggregateType == "" {
		dl.AggregateType = envelope.AggregateType
	}
	if dl.AggregateID == "" {
		dl.AggregateID = envelope.AggregateID
	}
	if dl.EventType == "" {
		dl.EventType = envelope.EventType
	}
	dl.originalTopic = headerValue(msg, kafka.HeaderOriginalTopic)
	return dl, nil
}

// topic: явный -target-topic, затем заголовок x-original-topic, затем маршрут по агрегату.
func (d deadLetter) topic(override string) string {
	switch {
	case override != "":
		return override
	case d.originalTopic != "":
		return d.originalTopic
	default:
		return kafka.TopicFor(d.AggregateType)
	}
}

func (d deadLetter) key() string {
	if d.AggregateID != "" {
		return d.AggregateID
	}
	return d.OutboxID
}

// envelope восстанавливает исходное сообщение в том виде, в котором его публикует outbox.
func (d deadLetter) envelope(now time.Time) kafka.Envelope {
	return kafka.Envelope{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       d.Payload,
		PublishedAt:   now,
	}
}

func (d deadLetter) headers() map[string]string {
	return map[string]string{
		kafka.HeaderEventType:     d.EventType,
		kafka.HeaderAggregateType: d.AggregateType,
		kafka.HeaderOutboxID:      d.OutboxID,
	}
}

func headerValue(msg *sarama.ConsumerMessage, key string) string {
	for _, header := range msg.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
