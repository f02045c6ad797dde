package domain

import (
	"fmt"
	"math"
)

// CartItem: позиция корзины. ProductID уникален в пределах корзины.
type CartItem struct {
	ProductID  string `json:"productId"`
	Qty        int32  `json:"quantity"`
	PriceMinor int64  `json:"price"`
}

// Cart: корзина пользователя. Идентификатор корзины совпадает с UserID.
type Cart struct {
	UserID string     `json:"userId"`
	Items  []CartItem `json:"items"`
}

// NewCart возвращает пустую корзину пользователя.
func NewCart(userID string) Cart {
	return Cart{UserID: userID, Items: []CartItem{}}
}

// AddItem увеличивает количество существующей позиции или добавляет новую.
// Цена уже лежащей в корзине позиции не меняется. Если итог корзины
// перестаёт помещаться в int64, корзина не меняется и возвращается ErrValidation.
func (c *Cart) AddItem(productID string, qty int32, priceMinor int64) error {
	items := CloneItems(c.Items)
	merged := false
	for i := range items {
		if items[i].ProductID != productID {
			continue
		}
		if int64(items[i].Qty)+int64(qty) > math.MaxInt32 {
			return fmt.Errorf("%w: %w", ErrValidation, ErrAmountOverflow)
		}
		items[i].Qty += qty
		merged = true
		break
	}
	if !merged {
		items = append(items, CartItem{
			ProductID:  productID,
			Qty:        qty,
			PriceMinor: priceMinor,
		})
	}
	if _, ok := sumItems(items); !ok {
		return fmt.Errorf("%w: %w", ErrValidation, ErrAmountOverflow)
	}
	c.Items = items
	return nil
}

// IsEmpty сообщает, что в корзине нет позиций.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// TotalMinor считает сумму price*qty по всем позициям.
func (c Cart) TotalMinor() (int64, error) {
	total, ok := sumItems(c.Items)
	if !ok {
		return 0, ErrAmountOverflow
	}
	return total, nil
}

// Clone возвращает глубокую копию корзины.
func (c Cart) Clone() Cart {
	return Cart{UserID: c.UserID, Items: CloneItems(c.Items)}
}

// CloneItems копирует срез позиций; nil превращается в пустой срез.
func CloneItems(items []CartItem) []CartItem {
	out := make([]CartItem, len(items))
	copy(out, items)
	return out
}
