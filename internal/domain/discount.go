package domain

import "time"

const (
	// DefaultNthOrderThreshold: каждый N-й заказ получает купон.
	DefaultNthOrderThreshold = 5
	// DefaultDiscountPercentage: размер скидки выпускаемого купона, %.
	DefaultDiscountPercentage = 10
	// DiscountCodePrefix: префикс автоматически выпускаемых кодов.
	DiscountCodePrefix = "DISCOUNT-"
)

// DiscountCode: одноразовый купон на процентную скидку.
type DiscountCode struct {
	Code       string    `json:"code"`
	Percentage int       `json:"percentage"`
	Used       bool      `json:"isUsed"`
	CreatedAt  time.Time `json:"createdAt"`
	UsedAt     time.Time `json:"usedAt,omitempty"`
}

// ValidPercentage проверяет, что процент лежит в диапазоне 0..100.
func ValidPercentage(pct int) bool {
	return pct >= 0 && pct <= 100
}

// LedgerStats: агрегаты, которые хранилище считает по своему состоянию.
type LedgerStats struct {
	TotalOrders       int64 `json:"totalOrders"`
	TotalRevenueMinor int64 `json:"totalRevenue"`
	DiscountCodeCount int   `json:"discountCodesSize"`
}

// AdminStats: сводка для административной панели.
type AdminStats struct {
	TotalItemsPurchased      int64 `json:"totalItemsPurchased"`
	TotalRevenueMinor        int64 `json:"totalRevenue"`
	TotalDiscountsGivenMinor int64 `json:"totalDiscountsGiven"`
	TotalDiscountCodes       int   `json:"totalDiscountCodes"`
}
