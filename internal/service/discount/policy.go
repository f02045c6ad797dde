// Package discount содержит правила выпуска и погашения купонов.
package discount

import (
	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// Policy принимает решения по купонам, не храня собственного состояния.
type Policy struct {
	store domain.LedgerStore
}

// NewPolicy создаёт политику поверх хранилища.
func NewPolicy(store domain.LedgerStore) *Policy {
	return &Policy{store: store}
}

// ValidateDiscountCode возвращает процент скидки по коду. Код не гасится:
// это делает вызывающий код после успешной проверки.
func (p *Policy) ValidateDiscountCode(code string) (int, error) {
	return validate(p.store, code)
}

// Redeem проверяет код и гасит его в рамках уже открытой транзакции хранилища,
// поэтому две конкурентные попытки не могут обе увидеть used=false.
func (p *Policy) Redeem(tx domain.LedgerTx, code string) (int, error) {
	pct, err := validate(tx, code)
	if err != nil {
		return 0, err
	}
	tx.MarkDiscountAsUsed(code)
	return pct, nil
}

// RedeemDiscountCode: Redeem в отдельной транзакции.
func (p *Policy) RedeemDiscountCode(code string) (int, error) {
	var pct int
	err := p.store.Atomic(func(tx domain.LedgerTx) error {
		var err error
		pct, err = p.Redeem(tx, code)
		return err
	})
	return pct, err
}

// CheckEligibility сообщает, был ли последний заказ «выигрышным». Побочных эффектов нет:
// выпуск купона выполняет само хранилище в CreateOrder.
func (p *Policy) CheckEligibility() bool {
	return IsEligible(p.store.OrderCount(), p.store.Threshold())
}

// NextEligibleIn возвращает, сколько заказов осталось до следующего купона (1..N).
func (p *Policy) NextEligibleIn() int64 {
	return OrdersUntilNext(p.store.OrderCount(), p.store.Threshold())
}

// OrdersUntilNext: сколько заказов осталось после count до ближайшего кратного threshold.
func OrdersUntilNext(count, threshold int64) int64 {
	if threshold <= 0 {
		return 0
	}
	return threshold - count%threshold
}

// IsEligible: count > 0 и count кратно threshold.
func IsEligible(count, threshold int64) bool {
	if count <= 0 || threshold <= 0 {
		return false
	}
	return count%threshold == 0
}

// DiscountFor считает скидку в минимальных единицах; дробная часть отбрасывается.
// Сумма делится на сотни до умножения, поэтому результат не переполняется.
func DiscountFor(totalMinor int64, percentage int) int64 {
	if totalMinor <= 0 || percentage <= 0 {
		return 0
	}
	if percentage > 100 {
		percentage = 100
	}
	pct := int64(percentage)
	return totalMinor/100*pct + totalMinor%100*pct/100
}

func validate(reader domain.LedgerReader, code string) (int, error) {
	dc, ok := reader.GetDiscountCode(code)
	if !ok {
		return 0, domain.ErrInvalidDiscountCode
	}
	if dc.Used {
		return 0, domain.ErrDiscountCodeAlreadyUsed
	}
	return dc.Percentage, nil
}
