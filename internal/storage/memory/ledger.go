package memory

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const maxCodeAttempts = 8

// LedgerOption настраивает in-memory хранилище.
type LedgerOption func(*ledgerInMemory)

// WithThreshold задаёт N: купон выпускается на каждом N-м заказе.
func WithThreshold(n int64) LedgerOption {
	return func(l *ledgerInMemory) {
		l.threshold = n
	}
}

// WithDiscountPercentage задаёт процент скидки выпускаемых купонов.
func WithDiscountPercentage(pct int) LedgerOption {
	return func(l *ledgerInMemory) {
		l.percentage = pct
	}
}

// WithOutbox включает запись доменных событий в transactional outbox.
func WithOutbox(repo domain.OutboxRepository) LedgerOption {
	return func(l *ledgerInMemory) {
		l.outbox = repo
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) LedgerOption {
	return func(l *ledgerInMemory) {
		if now != nil {
			l.now = now
		}
	}
}

// WithCodeGenerator подменяет генератор кодов купонов.
func WithCodeGenerator(gen func() string) LedgerOption {
	return func(l *ledgerInMemory) {
		if gen != nil {
			l.newCode = gen
		}
	}
}

// WithLogger задаёт logger хранилища.
func WithLogger(logger *log.Entry) LedgerOption {
	return func(l *ledgerInMemory) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// ledgerInMemory держит всё изменяемое состояние магазина под одним мьютексом.
// Внутри критической секции нет I/O и вызовов внешних сервисов.
type ledgerInMemory struct {
	mu sync.Mutex

	carts      map[string]domain.Cart
	orders     []domain.Order
	orderIDs   map[string]struct{}
	codes      map[string]domain.DiscountCode
	orderCount int64

	threshold  int64
	percentage int

	outbox  domain.OutboxRepository
	now     func() time.Time
	newCode func() string
	logger  *log.Entry
}

// NewLedgerStore возвращает in-memory хранилище корзин, заказов и купонов.
func NewLedgerStore(options ...LedgerOption) domain.LedgerStore {
	l := &ledgerInMemory{
		threshold:  domain.DefaultNthOrderThreshold,
		percentage: domain.DefaultDiscountPercentage,
		now:        func() time.Time { return time.Now().UTC() },
		newCode:    NewDiscountCode,
		logger:     log.WithField("component", "ledger-store"),
	}
	for _, option := range options {
		option(l)
	}

	if l.threshold < 1 {
		l.logger.WithField("threshold", l.threshold).Warn("invalid nth order threshold, using default")
		l.threshold = domain.DefaultNthOrderThreshold
	}
	if !domain.ValidPercentage(l.percentage) {
		l.logger.WithField("percentage", l.percentage).Warn("invalid discount percentage, using default")
		l.percentage = domain.DefaultDiscountPercentage
	}

	l.resetLocked()
	return l
}

// NewDiscountCode генерирует код вида DISCOUNT-<32 hex> на основе случайного UUID v4.
func NewDiscountCode() string {
	id := uuid.New()
	return domain.DiscountCodePrefix + strings.ToUpper(hex.EncodeToString(id[:]))
}

func (l *ledgerInMemory) resetLocked() {
	l.carts = make(map[string]domain.Cart)
	l.orders = nil
	l.orderIDs = make(map[string]struct{})
	l.codes = make(map[string]domain.DiscountCode)
	l.orderCount = 0
}

// Atomic выполняет fn под общей блокировкой хранилища.
func (l *ledgerInMemory) Atomic(fn func(tx domain.LedgerTx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ledgerTx{l: l})
}

func (l *ledgerInMemory) GetCart(userID string) (domain.Cart, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ledgerTx{l: l}.GetCart(userID)
}

func (l *ledgerInMemory) SaveCart(cart domain.Cart) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ledgerTx{l: l}.SaveCart(cart)
}

func (l *ledgerInMemory) CreateOrder(order domain.Order) (domain.Order, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ledgerTx{l: l}.CreateOrder(order)
}

func (l *ledgerInMemory) GetDiscountCode(code string) (domain.DiscountCode, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ledgerTx{l: l}.GetDiscountCode(code)
}

func (l *ledgerInMemory) CreateDiscountCode(code string, percentage int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ledgerTx{l: l}.CreateDiscountCode(code, percentage)
}

func (l *ledgerInMemory) MarkDiscountAsUsed(code string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ledgerTx{l: l}.MarkDiscountAsUsed(code)
}

func (l *ledgerInMemory) OrderCount() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.orderCount
}

// Orders возвращает копию журнала заказов в порядке создания.
func (l *ledgerInMemory) Orders() []domain.Order {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]domain.Order, 0, len(l.orders))
	for _, order := range l.orders {
		result = append(result, order.Clone())
	}
	return result
}

// Stats считает выручку проходом по журналу заказов.
func (l *ledgerInMemory) Stats() domain.LedgerStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	var revenue int64
	for _, order := range l.orders {
		revenue += order.FinalMinor
	}
	return domain.LedgerStats{
		TotalOrders:       l.orderCount,
		TotalRevenueMinor: revenue,
		DiscountCodeCount: len(l.codes),
	}
}

func (l *ledgerInMemory) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetLocked()
	l.logger.Debug("ledger state reset")
}

func (l *ledgerInMemory) Threshold() int64 {
	return l.threshold
}

func (l *ledgerInMemory) DiscountPercentage() int {
	return l.percentage
}

// ledgerTx: те же операции без захвата блокировки; валиден только внутри Atomic.
type ledgerTx struct {
	l *ledgerInMemory
}

func (tx ledgerTx) GetCart(userID string) (domain.Cart, bool) {
	cart, ok := tx.l.carts[userID]
	if !ok {
		return domain.Cart{}, false
	}
	return cart.Clone(), true
}

func (tx ledgerTx) SaveCart(cart domain.Cart) {
	// Храним копию, чтобы вызывающий код не мог изменить состояние в обход блокировки.
	tx.l.carts[cart.UserID] = cart.Clone()
}

func (tx ledgerTx) CreateOrder(order domain.Order) (domain.Order, string, error) {
	l := tx.l

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = l.now()
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, "", fmt.Errorf("order %s rejected: %w", order.ID, errors.Join(errs...))
	}
	if _, exists := l.orderIDs[order.ID]; exists {
		return domain.Order{}, "", domain.ErrOrderExists
	}

	// Код подбираем до изменения состояния: при ошибке журнал и счётчик остаются прежними.
	next := l.orderCount + 1
	var generated string
	if next%l.threshold == 0 {
		code, err := tx.uniqueCode()
		if err != nil {
			return domain.Order{}, "", err
		}
		generated = code
	}

	stored := order.Clone()
	l.orders = append(l.orders, stored)
	l.orderIDs[stored.ID] = struct{}{}
	l.orderCount = next

	tx.enqueue(domain.AggregateOrder, stored.ID, domain.EventOrderCreated, orderCreatedPayload{
		OrderID:        stored.ID,
		UserID:         stored.UserID,
		OrderNumber:    next,
		TotalAmount:    stored.TotalMinor,
		DiscountCode:   stored.DiscountCode,
		DiscountAmount: stored.DiscountMinor,
		FinalAmount:    stored.FinalMinor,
		CreatedAt:      stored.CreatedAt,
	})

	if generated != "" {
		l.codes[generated] = domain.DiscountCode{
			Code:       generated,
			Percentage: l.percentage,
			CreatedAt:  l.now(),
		}
		tx.enqueue(domain.AggregateDiscount, generated, domain.EventDiscountGenerated, discountGeneratedPayload{
			Code:        generated,
			Percentage:  l.percentage,
			OrderID:     stored.ID,
			OrderNumber: next,
		})
		l.logger.WithFields(log.Fields{
			"order_id":     stored.ID,
			"order_number": next,
		}).Info("nth order reached, discount code generated")
	}

	return stored.Clone(), generated, nil
}

func (tx ledgerTx) GetDiscountCode(code string) (domain.DiscountCode, bool) {
	dc, ok := tx.l.codes[code]
	return dc, ok
}

func (tx ledgerTx) CreateDiscountCode(code string, percentage int) error {
	if strings.TrimSpace(code) == "" {
		return domain.ErrDiscountCodeRequired
	}
	if !domain.ValidPercentage(percentage) {
		return domain.ErrDiscountPercentageInvalid
	}
	if _, exists := tx.l.codes[code]; exists {
		return domain.ErrDiscountCodeExists
	}
	tx.l.codes[code] = domain.DiscountCode{
		Code:       code,
		Percentage: percentage,
		CreatedAt:  tx.l.now(),
	}
	return nil
}

func (tx ledgerTx) MarkDiscountAsUsed(code string) {
	dc, ok := tx.l.codes[code]
	if !ok {
		return
	}
	wasUsed := dc.Used
	dc.Used = true
	if !wasUsed {
		dc.UsedAt = tx.l.now()
	}
	tx.l.codes[code] = dc

	if !wasUsed {
		tx.enqueue(domain.AggregateDiscount, code, domain.EventDiscountRedeemed, discountRedeemedPayload{
			Code:   code,
			UsedAt: dc.UsedAt,
		})
	}
}

func (tx ledgerTx) OrderCount() int64 {
	return tx.l.orderCount
}

func (tx ledgerTx) uniqueCode() (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := tx.l.newCode()
		if code == "" {
			continue
		}
		if _, exists := tx.l.codes[code]; !exists {
			return code, nil
		}
	}
	return "", domain.ErrDiscountCodeGeneration
}

// enqueue пишет событие в outbox внутри той же критической секции, что и изменение состояния.
func (tx ledgerTx) enqueue(aggregateType, aggregateID, eventType string, payload any) {
	if tx.l.outbox == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		tx.l.logger.WithError(err).WithField("event_type", eventType).Warn("failed to encode outbox payload")
		return
	}

	if _, err := tx.l.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		CreatedAt:     tx.l.now(),
	}); err != nil {
		tx.l.logger.WithError(err).WithFields(log.Fields{
			"event_type":   eventType,
			"aggregate_id": aggregateID,
		}).Warn("failed to enqueue outbox event")
	}
}

type orderCreatedPayload struct {
	OrderID        string    `json:"orderId"`
	UserID         string    `json:"userId"`
	OrderNumber    int64     `json:"orderNumber"`
	TotalAmount    int64     `json:"totalAmount"`
	DiscountCode   string    `json:"discountCode,omitempty"`
	DiscountAmount int64     `json:"discountAmount"`
	FinalAmount    int64     `json:"finalAmount"`
	CreatedAt      time.Time `json:"createdAt"`
}

type discountGeneratedPayload struct {
	Code        string `json:"code"`
	Percentage  int    `json:"percentage"`
	OrderID     string `json:"orderId"`
	OrderNumber int64  `json:"orderNumber"`
}

type discountRedeemedPayload struct {
	Code   string    `json:"code"`
	UsedAt time.Time `json:"usedAt"`
}

var (
	_ domain.LedgerStore = (*ledgerInMemory)(nil)
	_ domain.LedgerTx    = ledgerTx{}
)
