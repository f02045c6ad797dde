// Package checkout превращает корзину пользователя в заказ и применяет купоны.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/service/discount"
)

const resultSuccess = "success"

// CheckoutResult: созданный заказ и купон, если этот заказ оказался N-м.
type CheckoutResult struct {
	Order           domain.Order `json:"order"`
	GeneratedCoupon string       `json:"generatedCoupon,omitempty"`
}

// Option настраивает сервис.
type Option func(*Service)

// WithMetrics подключает prometheus-метрики checkout.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock подменяет источник времени для CreatedAt заказа.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// Service управляет корзинами и checkout. Собственного состояния нет:
// всё лежит в LedgerStore, каждая операция выполняется одним вызовом Atomic.
type Service struct {
	store   domain.LedgerStore
	policy  *discount.Policy
	metrics *metrics.CheckoutMetrics
	logger  *log.Entry
	now     func() time.Time
	newID   func() string
}

// NewService создаёт сервис поверх хранилища.
func NewService(store domain.LedgerStore, options ...Option) *Service {
	s := &Service{
		store:  store,
		policy: discount.NewPolicy(store),
		logger: log.WithField("component", "checkout"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// AddToCart добавляет товар в корзину пользователя. Повторное добавление того же
// товара увеличивает количество, цена берётся из первого добавления.
func (s *Service) AddToCart(ctx context.Context, userID, productID string, qty int32, priceMinor int64) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}

	userID = strings.TrimSpace(userID)
	productID = strings.TrimSpace(productID)
	if err := validateItem(userID, productID, qty, priceMinor); err != nil {
		return domain.Cart{}, err
	}

	var result domain.Cart
	err := s.store.Atomic(func(tx domain.LedgerTx) error {
		cart, ok := tx.GetCart(userID)
		if !ok {
			cart = domain.NewCart(userID)
		}
		if err := cart.AddItem(productID, qty, priceMinor); err != nil {
			return err
		}
		tx.SaveCart(cart)
		result = cart.Clone()
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}

	s.metrics.RecordCartAdd()
	s.logger.WithFields(log.Fields{
		"user_id":    userID,
		"product_id": productID,
		"qty":        qty,
	}).Debug("item added to cart")

	return result, nil
}

// GetCart возвращает корзину пользователя; для неизвестного пользователя: пустую.
func (s *Service) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrUserIDRequired)
	}

	cart, ok := s.store.GetCart(userID)
	if !ok {
		return domain.NewCart(userID), nil
	}
	return cart, nil
}

// Checkout оформляет заказ из корзины пользователя.
//
// Вся последовательность выполняется в одной транзакции хранилища: два параллельных
// checkout одного пользователя не могут превратить одну корзину в два заказа.
// Купон, погашенный на шаге проверки, не восстанавливается при последующей ошибке.
func (s *Service) Checkout(ctx context.Context, userID, discountCode string) (CheckoutResult, error) {
	if err := ctx.Err(); err != nil {
		return CheckoutResult{}, err
	}

	userID = strings.TrimSpace(userID)
	discountCode = strings.TrimSpace(discountCode)
	if userID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrUserIDRequired)
	}

	started := time.Now()
	s.metrics.RecordCheckoutStarted()

	var (
		result   CheckoutResult
		redeemed bool
	)
	err := s.store.Atomic(func(tx domain.LedgerTx) error {
		cart, ok := tx.GetCart(userID)
		if !ok || cart.IsEmpty() {
			return domain.ErrEmptyCart
		}

		total, err := cart.TotalMinor()
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}

		pct := 0
		if discountCode != "" {
			pct, err = s.policy.Redeem(tx, discountCode)
			if err != nil {
				return err
			}
			redeemed = true
		}

		discountMinor := discount.DiscountFor(total, pct)
		order := domain.Order{
			ID:            s.newID(),
			UserID:        userID,
			Items:         domain.CloneItems(cart.Items),
			TotalMinor:    total,
			DiscountCode:  discountCode,
			DiscountMinor: discountMinor,
			FinalMinor:    total - discountMinor,
			CreatedAt:     s.now(),
		}

		saved, coupon, err := tx.CreateOrder(order)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		tx.SaveCart(domain.NewCart(userID))

		result = CheckoutResult{Order: saved, GeneratedCoupon: coupon}
		return nil
	})

	if redeemed {
		s.metrics.RecordCouponRedeemed()
	}

	entry := s.logger.WithField("user_id", userID)
	if err != nil {
		kind := domain.KindOf(err)
		s.metrics.RecordCheckoutFinished(string(kind), time.Since(started))
		if kind == domain.KindInternal {
			entry.WithError(err).Error("checkout failed")
		} else {
			entry.WithError(err).Info("checkout rejected")
		}
		return CheckoutResult{}, err
	}

	s.metrics.RecordCheckoutFinished(resultSuccess, time.Since(started))
	s.metrics.RecordOrderCreated(result.Order.FinalMinor, result.Order.DiscountMinor)
	if result.GeneratedCoupon != "" {
		s.metrics.RecordCouponMinted()
	}

	entry.WithFields(log.Fields{
		"order_id":       result.Order.ID,
		"total_minor":    result.Order.TotalMinor,
		"discount_minor": result.Order.DiscountMinor,
		"coupon_minted":  result.GeneratedCoupon != "",
	}).Info("order created")

	return result, nil
}

func validateItem(userID, productID string, qty int32, priceMinor int64) error {
	switch {
	case userID == "":
		return fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrUserIDRequired)
	case productID == "":
		return fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrProductIDRequired)
	case qty <= 0:
		return fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrItemQtyInvalid)
	case priceMinor < 0 || priceMinor > domain.MaxPriceMinor:
		return fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrItemPriceInvalid)
	}
	return nil
}
