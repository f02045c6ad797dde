package memory_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

func newOrder(id string, totalMinor int64) domain.Order {
	return domain.Order{
		ID:         id,
		UserID:     "user-1",
		Items:      []domain.CartItem{{ProductID: "p-1", Qty: 1, PriceMinor: totalMinor}},
		TotalMinor: totalMinor,
		FinalMinor: totalMinor,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestLedger_SaveCartOverwritesAndCopies(t *testing.T) {
	store := memory.NewLedgerStore()

	_, ok := store.GetCart("user-1")
	require.False(t, ok)

	cart := domain.NewCart("user-1")
	require.NoError(t, cart.AddItem("p-1", 2, 500))
	store.SaveCart(cart)

	// Изменение исходного значения не должно протекать в хранилище.
	cart.Items[0].Qty = 100

	stored, ok := store.GetCart("user-1")
	require.True(t, ok)
	require.Equal(t, int32(2), stored.Items[0].Qty)

	store.SaveCart(domain.NewCart("user-1"))
	stored, ok = store.GetCart("user-1")
	require.True(t, ok)
	require.Empty(t, stored.Items)
}

func TestLedger_CreateOrderMintsOnEveryNthOrder(t *testing.T) {
	store := memory.NewLedgerStore(memory.WithThreshold(3), memory.WithDiscountPercentage(15))

	var minted []string
	for i := 1; i <= 7; i++ {
		saved, code, err := store.CreateOrder(newOrder(fmt.Sprintf("order-%d", i), 1000))
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("order-%d", i), saved.ID)
		require.Equal(t, int64(i), store.OrderCount())

		if i%3 == 0 {
			require.NotEmpty(t, code, "order %d must mint a code", i)
			require.True(t, strings.HasPrefix(code, domain.DiscountCodePrefix))
			minted = append(minted, code)
		} else {
			require.Empty(t, code, "order %d must not mint a code", i)
		}
	}

	require.Len(t, minted, 2)
	require.NotEqual(t, minted[0], minted[1])

	dc, ok := store.GetDiscountCode(minted[0])
	require.True(t, ok)
	require.Equal(t, 15, dc.Percentage)
	require.False(t, dc.Used)
}

func TestLedger_CreateOrderRejectsInvalidAndDuplicate(t *testing.T) {
	store := memory.NewLedgerStore()

	bad := newOrder("order-bad", 1000)
	bad.FinalMinor = 1
	_, _, err := store.CreateOrder(bad)
	require.ErrorIs(t, err, domain.ErrAmountMismatch)
	require.NotErrorIs(t, err, domain.ErrValidation)
	require.Equal(t, domain.KindInternal, domain.KindOf(err))

	overflow := newOrder("order-overflow", 0)
	overflow.Items = []domain.CartItem{{ProductID: "p", Qty: 2, PriceMinor: 5_000_000_000_000_000_000}}
	overflow.TotalMinor = -8446744073709551616
	overflow.FinalMinor = overflow.TotalMinor
	_, _, err = store.CreateOrder(overflow)
	require.ErrorIs(t, err, domain.ErrAmountOverflow)

	_, _, err = store.CreateOrder(newOrder("order-1", 1000))
	require.NoError(t, err)
	_, _, err = store.CreateOrder(newOrder("order-1", 1000))
	require.ErrorIs(t, err, domain.ErrOrderExists)

	require.Equal(t, int64(1), store.OrderCount())
	require.Len(t, store.Orders(), 1)
}

func TestLedger_CreateOrderGeneratesIDWhenMissing(t *testing.T) {
	store := memory.NewLedgerStore()

	order := newOrder("", 500)
	order.CreatedAt = time.Time{}
	saved, _, err := store.CreateOrder(order)
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	require.False(t, saved.CreatedAt.IsZero())
}

func TestLedger_CodeCollisionDoesNotAdvanceCounter(t *testing.T) {
	store := memory.NewLedgerStore(
		memory.WithThreshold(1),
		memory.WithCodeGenerator(func() string { return "DISCOUNT-FIXED" }),
	)

	_, code, err := store.CreateOrder(newOrder("order-1", 100))
	require.NoError(t, err)
	require.Equal(t, "DISCOUNT-FIXED", code)

	_, _, err = store.CreateOrder(newOrder("order-2", 100))
	require.ErrorIs(t, err, domain.ErrDiscountCodeGeneration)
	require.Equal(t, int64(1), store.OrderCount())
	require.Len(t, store.Orders(), 1)
}

func TestLedger_DiscountCodeLifecycle(t *testing.T) {
	store := memory.NewLedgerStore()

	require.ErrorIs(t, store.CreateDiscountCode("", 10), domain.ErrDiscountCodeRequired)
	require.ErrorIs(t, store.CreateDiscountCode("PROMO", 101), domain.ErrDiscountPercentageInvalid)
	require.NoError(t, store.CreateDiscountCode("PROMO", 20))
	require.ErrorIs(t, store.CreateDiscountCode("PROMO", 20), domain.ErrDiscountCodeExists)

	// Неизвестный код: не ошибка и не побочный эффект.
	store.MarkDiscountAsUsed("UNKNOWN")
	_, ok := store.GetDiscountCode("UNKNOWN")
	require.False(t, ok)

	store.MarkDiscountAsUsed("PROMO")
	first, ok := store.GetDiscountCode("PROMO")
	require.True(t, ok)
	require.True(t, first.Used)
	require.False(t, first.UsedAt.IsZero())

	store.MarkDiscountAsUsed("PROMO")
	second, _ := store.GetDiscountCode("PROMO")
	require.True(t, second.Used)
	require.True(t, first.UsedAt.Equal(second.UsedAt))
}

func TestLedger_StatsAndReset(t *testing.T) {
	store := memory.NewLedgerStore()

	_, _, err := store.CreateOrder(newOrder("order-1", 10000))
	require.NoError(t, err)

	discounted := newOrder("order-2", 5000)
	discounted.DiscountCode = "PROMO"
	discounted.DiscountMinor = 500
	discounted.FinalMinor = 4500
	_, _, err = store.CreateOrder(discounted)
	require.NoError(t, err)
	require.NoError(t, store.CreateDiscountCode("PROMO", 10))

	stats := store.Stats()
	require.Equal(t, int64(2), stats.TotalOrders)
	require.Equal(t, int64(14500), stats.TotalRevenueMinor)
	require.Equal(t, 1, stats.DiscountCodeCount)

	store.SaveCart(domain.NewCart("user-1"))
	store.Reset()

	require.Equal(t, domain.LedgerStats{}, store.Stats())
	require.Empty(t, store.Orders())
	_, ok := store.GetCart("user-1")
	require.False(t, ok)
	_, ok = store.GetDiscountCode("PROMO")
	require.False(t, ok)
}

func TestLedger_InvalidConfigFallsBackToDefaults(t *testing.T) {
	store := memory.NewLedgerStore(memory.WithThreshold(0), memory.WithDiscountPercentage(150))
	require.Equal(t, int64(domain.DefaultNthOrderThreshold), store.Threshold())
	require.Equal(t, domain.DefaultDiscountPercentage, store.DiscountPercentage())
}

func TestLedger_AtomicDoesNotRollBack(t *testing.T) {
	store := memory.NewLedgerStore()
	require.NoError(t, store.CreateDiscountCode("PROMO", 10))

	boom := errors.New("boom")
	err := store.Atomic(func(tx domain.LedgerTx) error {
		tx.MarkDiscountAsUsed("PROMO")
		return boom
	})
	require.ErrorIs(t, err, boom)

	dc, ok := store.GetDiscountCode("PROMO")
	require.True(t, ok)
	require.True(t, dc.Used)
}

func TestLedger_ConcurrentCreateOrderMintsExactlyOncePerThreshold(t *testing.T) {
	const (
		threshold = 4
		workers   = 64
	)
	store := memory.NewLedgerStore(memory.WithThreshold(threshold))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes []string
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, code, err := store.CreateOrder(newOrder(fmt.Sprintf("order-%d", i), 100))
			if err != nil {
				t.Errorf("create order %d: %v", i, err)
				return
			}
			if code != "" {
				mu.Lock()
				codes = append(codes, code)
				mu.Unlock()
			}
		}(i)
	}
	close(start)
	wg.Wait()

	require.Equal(t, int64(workers), store.OrderCount())
	require.Len(t, codes, workers/threshold)
	require.Equal(t, workers/threshold, store.Stats().DiscountCodeCount)
}

func TestLedger_WritesOutboxEvents(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	store := memory.NewLedgerStore(memory.WithThreshold(2), memory.WithOutbox(outbox))

	_, _, err := store.CreateOrder(newOrder("order-1", 100))
	require.NoError(t, err)
	_, code, err := store.CreateOrder(newOrder("order-2", 100))
	require.NoError(t, err)
	require.NotEmpty(t, code)

	store.MarkDiscountAsUsed(code)
	store.MarkDiscountAsUsed(code)

	pending, err := outbox.PullPending(10)
	require.NoError(t, err)

	var types []string
	for _, msg := range pending {
		types = append(types, msg.EventType)
	}
	require.Equal(t, []string{
		domain.EventOrderCreated,
		domain.EventOrderCreated,
		domain.EventDiscountGenerated,
		domain.EventDiscountRedeemed,
	}, types)

	var payload struct {
		Code        string `json:"code"`
		OrderID     string `json:"orderId"`
		OrderNumber int64  `json:"orderNumber"`
	}
	require.NoError(t, json.Unmarshal(pending[2].Payload, &payload))
	require.Equal(t, code, payload.Code)
	require.Equal(t, "order-2", payload.OrderID)
	require.Equal(t, int64(2), payload.OrderNumber)
}
