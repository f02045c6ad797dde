package domain

import "time"

// Order: неизменяемый снимок корзины на момент checkout.
type Order struct {
	ID     string     `json:"id"`
	UserID string     `json:"userId"`
	Items  []CartItem `json:"items"`
	// TotalMinor: сумма price*qty до скидки.
	TotalMinor int64 `json:"totalAmount"`
	// DiscountCode пуст, если скидка не применялась.
	DiscountCode  string    `json:"discountCode,omitempty"`
	DiscountMinor int64     `json:"discountAmount"`
	FinalMinor    int64     `json:"finalAmount"`
	CreatedAt     time.Time `json:"timestamp"`
}

// Clone возвращает копию заказа, не разделяющую срез позиций с оригиналом.
func (o Order) Clone() Order {
	o.Items = CloneItems(o.Items)
	return o
}

// ItemsCount возвращает суммарное количество единиц товара в заказе.
func (o Order) ItemsCount() int64 {
	var n int64
	for _, item := range o.Items {
		n += int64(item.Qty)
	}
	return n
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserIDRequired)
	}
	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}

	// Сверяем суммы: total = Σ qty*price, final = total - discount.
	total, ok := sumItems(o.Items)
	switch {
	case !ok:
		errs = append(errs, ErrAmountOverflow)
	case total != o.TotalMinor || o.DiscountMinor < 0 || o.DiscountMinor > o.TotalMinor || o.TotalMinor-o.DiscountMinor != o.FinalMinor:
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
