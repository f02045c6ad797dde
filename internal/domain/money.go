package domain

import "math"

// MaxPriceMinor: верхняя граница цены одной единицы товара в минимальных единицах.
// Сумма корзины из позиций с такой ценой остаётся далеко от предела int64.
const MaxPriceMinor int64 = 1_000_000_000_000

// mulMinor умножает цену на количество; ok=false при выходе за int64.
func mulMinor(price int64, qty int64) (int64, bool) {
	if price == 0 || qty == 0 {
		return 0, true
	}
	if price < 0 || qty < 0 {
		return 0, false
	}
	if price > math.MaxInt64/qty {
		return 0, false
	}
	return price * qty, true
}

// addMinor складывает неотрицательные суммы; ok=false при выходе за int64.
func addMinor(a, b int64) (int64, bool) {
	if a < 0 || b < 0 || a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

func sumItems(items []CartItem) (int64, bool) {
	var total int64
	for _, item := range items {
		line, ok := mulMinor(item.PriceMinor, int64(item.Qty))
		if !ok {
			return 0, false
		}
		if total, ok = addMinor(total, line); !ok {
			return 0, false
		}
	}
	return total, true
}
