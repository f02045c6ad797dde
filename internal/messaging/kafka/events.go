package kafka

import (
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "shop.order.events"
	TopicDiscountEvents  = "shop.discount.events"
	TopicDeadLetterQueue = "shop.dlq"
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderOriginalTopic = "x-original-topic"
	HeaderFailedAt      = "x-failed-at"
)

// Envelope: формат сообщения, которое уходит в topic.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     string          `json:"eventType"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"publishedAt"`
}

// TopicFor выбирает topic по типу агрегата: заказы и купоны публикуются раздельно.
func TopicFor(aggregateType string) string {
	if aggregateType == domain.AggregateDiscount {
		return TopicDiscountEvents
	}
	return TopicOrderEvents
}
