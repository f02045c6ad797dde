package domain

import "time"

// LedgerReader: операции чтения, доступные как снаружи, так и внутри транзакции.
type LedgerReader interface {
	// GetCart возвращает копию корзины пользователя; ok=false, если корзины нет.
	GetCart(userID string) (Cart, bool)
	// GetDiscountCode возвращает купон по коду; ok=false, если кода нет.
	GetDiscountCode(code string) (DiscountCode, bool)
	// OrderCount возвращает текущее значение счётчика заказов.
	OrderCount() int64
}

// LedgerTx: примитивы хранилища, выполняемые внутри уже захваченной блокировки.
type LedgerTx interface {
	LedgerReader
	// SaveCart перезаписывает корзину cart.UserID без слияния с прежним состоянием.
	SaveCart(cart Cart)
	// CreateOrder добавляет заказ в журнал, увеличивает счётчик и на каждом N-м заказе
	// выпускает купон. Возвращает сохранённый заказ и код купона (или пустую строку).
	CreateOrder(order Order) (Order, string, error)
	// CreateDiscountCode добавляет неиспользованный купон.
	CreateDiscountCode(code string, percentage int) error
	// MarkDiscountAsUsed идемпотентно гасит купон; неизвестный код игнорируется.
	MarkDiscountAsUsed(code string)
}

// LedgerStore: единственный владелец изменяемого состояния магазина.
// Все методы атомарны относительно друг друга.
type LedgerStore interface {
	LedgerTx
	// Atomic выполняет fn под той же блокировкой, что и одиночные операции.
	// Изменения, сделанные fn до возврата ошибки, не откатываются.
	Atomic(fn func(tx LedgerTx) error) error
	// Orders возвращает копию журнала заказов в порядке создания.
	Orders() []Order
	// Stats считает агрегаты по журналу заказов.
	Stats() LedgerStats
	// Reset очищает всё состояние; только для тестов и bootstrap.
	Reset()
	// Threshold возвращает N, с которым сконфигурировано хранилище.
	Threshold() int64
	// DiscountPercentage возвращает X, с которым выпускаются купоны.
	DiscountPercentage() int
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// IdempotencyRepository хранит ответы checkout по ключу userID:Idempotency-Key.
//
// Reserve занимает ключ до expiresAt. Для живой записи возвращает её копию вместе с
// ErrIdempotencyKeyAlreadyExists или ErrIdempotencyHashMismatch.
// Complete сохраняет ответ; статус записи выводится из кода ответа.
// DeleteExpired удаляет записи в порядке истечения, не больше limit (limit <= 0: все).
type IdempotencyRepository interface {
	Reserve(key, requestHash string, expiresAt time.Time) (IdempotencyRecord, error)
	Complete(key string, resp CheckoutResponse) error
	Get(key string) (IdempotencyRecord, error)
	DeleteExpired(before time.Time, limit int) (int, error)
}

// Типы событий, которые хранилище кладёт в outbox.
const (
	EventOrderCreated      = "order.created"
	EventDiscountGenerated = "discount.generated"
	EventDiscountRedeemed  = "discount.redeemed"

	AggregateOrder    = "order"
	AggregateDiscount = "discount"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
