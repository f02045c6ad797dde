// Package admin собирает сводку по заказам и купонам для административной панели.
package admin

import (
	"context"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/discount"
)

// EligibilityReport показывает положение счётчика заказов относительно порога N.
type EligibilityReport struct {
	OrderCount         int64 `json:"orderCount"`
	Threshold          int64 `json:"threshold"`
	DiscountPercentage int   `json:"discountPercentage"`
	// LastOrderMinted: последний созданный заказ получил купон.
	LastOrderMinted bool `json:"lastOrderMinted"`
	// NextEligibleIn: через сколько заказов будет выпущен следующий купон.
	NextEligibleIn int64 `json:"nextEligibleIn"`
	// NextOrderMintsCoupon: следующий заказ получит купон.
	NextOrderMintsCoupon bool `json:"nextOrderMintsCoupon"`
}

// Service только читает хранилище.
type Service struct {
	store  domain.LedgerStore
	policy *discount.Policy
}

// NewService создаёт сервис статистики.
func NewService(store domain.LedgerStore) *Service {
	return &Service{store: store, policy: discount.NewPolicy(store)}
}

// Stats агрегирует журнал заказов за один проход.
func (s *Service) Stats(ctx context.Context) (domain.AdminStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.AdminStats{}, err
	}

	ledger := s.store.Stats()
	stats := domain.AdminStats{
		TotalRevenueMinor:  ledger.TotalRevenueMinor,
		TotalDiscountCodes: ledger.DiscountCodeCount,
	}
	for _, order := range s.store.Orders() {
		stats.TotalItemsPurchased += order.ItemsCount()
		stats.TotalDiscountsGivenMinor += order.DiscountMinor
	}
	return stats, nil
}

// EligibilityReport возвращает состояние счётчика без побочных эффектов.
func (s *Service) EligibilityReport(ctx context.Context) (EligibilityReport, error) {
	if err := ctx.Err(); err != nil {
		return EligibilityReport{}, err
	}

	report := EligibilityReport{OrderCount: s.store.OrderCount()}
	report.Threshold = s.store.Threshold()
	report.DiscountPercentage = s.store.DiscountPercentage()
	report.LastOrderMinted = discount.IsEligible(report.OrderCount, report.Threshold)
	report.NextEligibleIn = discount.OrdersUntilNext(report.OrderCount, report.Threshold)
	report.NextOrderMintsCoupon = report.NextEligibleIn == 1
	return report, nil
}

// CheckEligibility сообщает, получил ли купон последний заказ.
func (s *Service) CheckEligibility() bool {
	return s.policy.CheckEligibility()
}
