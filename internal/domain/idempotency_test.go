package domain

import (
	"testing"
	"time"
)

func TestIdempotencyStatusValid(t *testing.T) {
	tests := []struct {
		name   string
		status IdempotencyStatus
		want   bool
		final  bool
	}{
		{name: "processing", status: IdempotencyStatusProcessing, want: true, final: false},
		{name: "done", status: IdempotencyStatusDone, want: true, final: true},
		{name: "failed", status: IdempotencyStatusFailed, want: true, final: true},
		{name: "invalid", status: IdempotencyStatus("broken"), want: false, final: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.status.Valid(); got != tc.want {
				t.Fatalf("status %q valid=%v, want %v", tc.status, got, tc.want)
			}
			if got := tc.status.Final(); got != tc.final {
				t.Fatalf("status %q final=%v, want %v", tc.status, got, tc.final)
			}
		})
	}
}

func TestIdempotencyRecordExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	if (IdempotencyRecord{ExpiresAt: now.Add(time.Second)}).Expired(now) {
		t.Fatal("record with future expiry must not be expired")
	}
	if !(IdempotencyRecord{ExpiresAt: now}).Expired(now) {
		t.Fatal("record expiring now must be expired")
	}
}

func TestCheckoutResponseOutcome(t *testing.T) {
	for status, want := range map[int]IdempotencyStatus{
		201: IdempotencyStatusDone,
		400: IdempotencyStatusDone,
		404: IdempotencyStatusDone,
		500: IdempotencyStatusFailed,
		503: IdempotencyStatusFailed,
	} {
		if got := (CheckoutResponse{Status: status}).Outcome(); got != want {
			t.Errorf("status %d: outcome %q, want %q", status, got, want)
		}
	}
}

func TestCheckoutResponseClone(t *testing.T) {
	resp := CheckoutResponse{Status: 201, Body: []byte(`{"a":1}`)}
	clone := resp.Clone()
	clone.Body[0] = 'x'
	if resp.Body[0] != '{' {
		t.Fatal("clone shares body with original")
	}
}
