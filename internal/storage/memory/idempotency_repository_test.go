package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func newReplayStore(t *testing.T) (*checkoutReplayStore, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	return newIdempotencyRepository(clock.Now), clock
}

func TestCheckoutReplayStore_ReserveAndGet(t *testing.T) {
	store, clock := newReplayStore(t)
	expiresAt := clock.now.Add(2 * time.Hour)

	reserved, err := store.Reserve("user-1:key-1", "hash-1", expiresAt)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, reserved.Status)
	require.Equal(t, clock.now, reserved.CreatedAt)

	got, err := store.Get("user-1:key-1")
	require.NoError(t, err)
	require.Equal(t, "hash-1", got.RequestHash)
	require.True(t, got.ExpiresAt.Equal(expiresAt))

	_, err = store.Get("  ")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	_, err = store.Reserve("user-1:key-2", " ", expiresAt)
	require.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)
}

func TestCheckoutReplayStore_DefaultExpiry(t *testing.T) {
	store, clock := newReplayStore(t)

	reserved, err := store.Reserve("user-1:key", "hash", time.Time{})
	require.NoError(t, err)
	require.Equal(t, clock.now.Add(defaultIdempotencyTTL), reserved.ExpiresAt)
}

func TestCheckoutReplayStore_HeldKey(t *testing.T) {
	store, clock := newReplayStore(t)
	expiresAt := clock.now.Add(time.Hour)

	_, err := store.Reserve("user-1:key", "hash-a", expiresAt)
	require.NoError(t, err)

	held, err := store.Reserve("user-1:key", "hash-a", expiresAt)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	require.Equal(t, domain.IdempotencyStatusProcessing, held.Status)

	_, err = store.Reserve("user-1:key", "hash-b", expiresAt)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestCheckoutReplayStore_CompleteStoresCheckoutResponse(t *testing.T) {
	store, clock := newReplayStore(t)
	expiresAt := clock.now.Add(time.Hour)

	_, err := store.Reserve("user-1:ok", "hash", expiresAt)
	require.NoError(t, err)
	_, err = store.Reserve("user-1:boom", "hash", expiresAt)
	require.NoError(t, err)

	body := []byte(`{"success":true}`)
	require.NoError(t, store.Complete("user-1:ok", domain.CheckoutResponse{Status: 201, Body: body}))
	require.NoError(t, store.Complete("user-1:boom", domain.CheckoutResponse{Status: 500}))
	body[0] = 'x'

	ok, err := store.Get("user-1:ok")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, ok.Status)
	require.Equal(t, 201, ok.Response.Status)
	require.JSONEq(t, `{"success":true}`, string(ok.Response.Body))

	boom, err := store.Get("user-1:boom")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, boom.Status)

	require.ErrorIs(t, store.Complete("user-1:missing", domain.CheckoutResponse{Status: 201}), domain.ErrIdempotencyKeyNotFound)
}

func TestCheckoutReplayStore_ExpiredKeyIsReusable(t *testing.T) {
	store, clock := newReplayStore(t)

	_, err := store.Reserve("user-1:key", "hash-a", clock.now.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, store.Complete("user-1:key", domain.CheckoutResponse{Status: 201, Body: []byte(`{}`)}))

	clock.now = clock.now.Add(2 * time.Minute)

	_, err = store.Get("user-1:key")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	require.ErrorIs(t, store.Complete("user-1:key", domain.CheckoutResponse{Status: 201}), domain.ErrIdempotencyKeyNotFound)

	record, err := store.Reserve("user-1:key", "hash-b", clock.now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, "hash-b", record.RequestHash)
	require.Equal(t, domain.IdempotencyStatusProcessing, record.Status)
	require.Empty(t, record.Response.Body)
}

func TestCheckoutReplayStore_DeleteExpiredOldestFirst(t *testing.T) {
	store, clock := newReplayStore(t)
	start := clock.now

	for i, key := range []string{"user-1:c", "user-1:a", "user-1:b"} {
		_, err := store.Reserve(key, "hash", start.Add(time.Duration(3-i)*time.Minute))
		require.NoError(t, err)
	}
	_, err := store.Reserve("user-2:fresh", "hash", start.Add(time.Hour))
	require.NoError(t, err)

	clock.now = start.Add(10 * time.Minute)

	removed, err := store.DeleteExpired(time.Time{}, 2)
	require.NoError(t, err)
	require.Equal(t, 2, removed)
	require.Contains(t, store.records, "user-1:c", "the latest expiring key survives a limited sweep")

	removed, err = store.DeleteExpired(clock.now, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = store.Get("user-2:fresh")
	require.NoError(t, err)
	require.Len(t, store.records, 1)
}

func TestCheckoutReplayStore_DeleteExpiredSkipsReReservedKeys(t *testing.T) {
	store, clock := newReplayStore(t)

	_, err := store.Reserve("user-1:key", "hash-a", clock.now.Add(time.Minute))
	require.NoError(t, err)

	clock.now = clock.now.Add(2 * time.Minute)
	_, err = store.Reserve("user-1:key", "hash-b", clock.now.Add(time.Hour))
	require.NoError(t, err)

	removed, err := store.DeleteExpired(clock.now, 0)
	require.NoError(t, err)
	require.Zero(t, removed)

	got, err := store.Get("user-1:key")
	require.NoError(t, err)
	require.Equal(t, "hash-b", got.RequestHash)
	require.Equal(t, 1, store.expiry.Len())
}
