package discount_test

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/discount"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

func TestValidateDiscountCode(t *testing.T) {
	store := memory.NewLedgerStore()
	policy := discount.NewPolicy(store)
	require.NoError(t, store.CreateDiscountCode("PROMO10", 10))
	require.NoError(t, store.CreateDiscountCode("USED", 20))
	store.MarkDiscountAsUsed("USED")

	tests := []struct {
		name    string
		code    string
		want    int
		wantErr error
	}{
		{name: "valid", code: "PROMO10", want: 10},
		{name: "not found", code: "NOPE", wantErr: domain.ErrInvalidDiscountCode},
		{name: "already used", code: "USED", wantErr: domain.ErrDiscountCodeAlreadyUsed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pct, err := policy.ValidateDiscountCode(tc.code)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, pct)
		})
	}

	// Проверка не гасит код.
	dc, _ := store.GetDiscountCode("PROMO10")
	require.False(t, dc.Used)
}

func TestRedeemDiscountCode_SingleUse(t *testing.T) {
	store := memory.NewLedgerStore()
	policy := discount.NewPolicy(store)
	require.NoError(t, store.CreateDiscountCode("ONCE", 25))

	pct, err := policy.RedeemDiscountCode("ONCE")
	require.NoError(t, err)
	require.Equal(t, 25, pct)

	_, err = policy.RedeemDiscountCode("ONCE")
	require.ErrorIs(t, err, domain.ErrDiscountCodeAlreadyUsed)

	_, err = policy.RedeemDiscountCode("MISSING")
	require.ErrorIs(t, err, domain.ErrInvalidDiscountCode)
}

func TestRedeemDiscountCode_ConcurrentSingleWinner(t *testing.T) {
	store := memory.NewLedgerStore()
	policy := discount.NewPolicy(store)
	require.NoError(t, store.CreateDiscountCode("RACE", 10))

	const attempts = 50
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		losers  atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := policy.RedeemDiscountCode("RACE")
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, domain.ErrDiscountCodeAlreadyUsed):
				losers.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), winners.Load())
	require.Equal(t, int32(attempts-1), losers.Load())
}

func TestEligibility(t *testing.T) {
	store := memory.NewLedgerStore(memory.WithThreshold(3))
	policy := discount.NewPolicy(store)

	require.False(t, policy.CheckEligibility(), "zero orders is never eligible")
	require.Equal(t, int64(3), policy.NextEligibleIn())

	for i := 1; i <= 3; i++ {
		_, _, err := store.CreateOrder(domain.Order{
			UserID:     "user-1",
			Items:      []domain.CartItem{{ProductID: "p", Qty: 1, PriceMinor: 100}},
			TotalMinor: 100,
			FinalMinor: 100,
		})
		require.NoError(t, err)
	}

	require.True(t, policy.CheckEligibility())
	require.Equal(t, int64(3), policy.NextEligibleIn())
	// Проверка не меняет счётчик.
	require.Equal(t, int64(3), store.OrderCount())
}

func TestIsEligible(t *testing.T) {
	tests := []struct {
		count, threshold int64
		want             bool
	}{
		{0, 5, false},
		{4, 5, false},
		{5, 5, true},
		{10, 5, true},
		{11, 5, false},
		{3, 0, false},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, discount.IsEligible(tc.count, tc.threshold), "count=%d threshold=%d", tc.count, tc.threshold)
	}
}

func TestDiscountFor(t *testing.T) {
	require.Equal(t, int64(2000), discount.DiscountFor(20000, 10))
	require.Equal(t, int64(0), discount.DiscountFor(20000, 0))
	require.Equal(t, int64(20000), discount.DiscountFor(20000, 100))
	// 999 * 15 / 100 = 149.85 -> 149
	require.Equal(t, int64(149), discount.DiscountFor(999, 15))
	require.Equal(t, int64(0), discount.DiscountFor(0, 50))
}

func TestDiscountFor_LargeTotalDoesNotOverflow(t *testing.T) {
	require.Equal(t, int64(100_000_000_000_000_000), discount.DiscountFor(1_000_000_000_000_000_000, 10))

	got := discount.DiscountFor(math.MaxInt64, 99)
	require.Positive(t, got)
	require.Less(t, got, int64(math.MaxInt64))
	require.Equal(t, int64(math.MaxInt64), discount.DiscountFor(math.MaxInt64, 100))
}

func TestOrdersUntilNext(t *testing.T) {
	require.Equal(t, int64(3), discount.OrdersUntilNext(0, 3))
	require.Equal(t, int64(1), discount.OrdersUntilNext(2, 3))
	require.Equal(t, int64(3), discount.OrdersUntilNext(3, 3))
	require.Equal(t, int64(0), discount.OrdersUntilNext(7, 0))
}
