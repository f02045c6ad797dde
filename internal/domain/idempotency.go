package domain

import (
	"net/http"
	"time"
)

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности checkout-запроса.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing: запрос принят и ещё выполняется.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone: запрос завершён, ответ сохранён для повторов.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed: запрос завершён внутренней ошибкой, ответ тоже сохранён.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// CheckoutResponse: HTTP-ответ checkout в том виде, в котором он ушёл клиенту.
type CheckoutResponse struct {
	Status int
	Body   []byte
}

// Outcome определяет итоговый статус записи по коду ответа.
func (r CheckoutResponse) Outcome() IdempotencyStatus {
	if r.Status >= http.StatusInternalServerError {
		return IdempotencyStatusFailed
	}
	return IdempotencyStatusDone
}

// Clone копирует тело ответа.
func (r CheckoutResponse) Clone() CheckoutResponse {
	r.Body = append([]byte(nil), r.Body...)
	return r
}

// IdempotencyRecord: состояние ключа userID:Idempotency-Key.
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	Status      IdempotencyStatus
	Response    CheckoutResponse
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Final сообщает, что по записи уже можно отдавать сохранённый ответ.
func (s IdempotencyStatus) Final() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// Expired проверяет, истёк ли срок записи к моменту now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
