package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorEnvelope struct {
	Success bool             `json:"success"`
	Error   string           `json:"error"`
	Code    domain.ErrorKind `json:"code,omitempty"`
	Details []string         `json:"details,omitempty"`
}

// validationError несёт список нарушений для поля details.
type validationError struct {
	details []string
}

func (e *validationError) Error() string {
	return "validation failed"
}

func (e *validationError) Unwrap() error {
	return domain.ErrValidation
}

func newValidationError(details ...string) error {
	return &validationError{details: details}
}

// statusFor отображает категорию ошибки на HTTP-статус. Таблица стабильна: клиенты на неё опираются.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindValidationFailed:
		return http.StatusBadRequest
	case domain.KindEmptyCart:
		return http.StatusNotFound
	case domain.KindInvalidDiscountCode:
		return http.StatusBadRequest
	case domain.KindDiscountCodeAlreadyUsed:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(kind domain.ErrorKind) string {
	switch kind {
	case domain.KindUnauthenticated:
		return "Unauthorized: Missing x-user-id header"
	case domain.KindValidationFailed:
		return "Validation Failed"
	case domain.KindEmptyCart:
		return "Cart not found or empty"
	case domain.KindInvalidDiscountCode:
		return "Invalid discount code"
	case domain.KindDiscountCodeAlreadyUsed:
		return "Discount code has already been used"
	default:
		return "Internal Server Error"
	}
}

func marshalSuccess(data any) ([]byte, error) {
	return json.Marshal(successEnvelope{Success: true, Data: data})
}

// marshalError строит тело ошибки. Детали внутренних ошибок наружу не попадают.
func marshalError(err error) (int, []byte) {
	kind := domain.KindOf(err)
	env := errorEnvelope{
		Error: messageFor(kind),
		Code:  kind,
	}

	var verr *validationError
	if errors.As(err, &verr) {
		env.Details = verr.details
	}

	body, _ := json.Marshal(env)
	return statusFor(kind), body
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, logger *log.Entry, status int, data any) {
	body, err := marshalSuccess(data)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeRaw(w, status, body)
}

func writeError(w http.ResponseWriter, logger *log.Entry, err error) {
	status, body := marshalError(err)
	if status == http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
	}
	writeRaw(w, status, body)
}

// writeConflict: ответ на конфликт idempotency-key; отдельный код, вне категорий домена.
func writeConflict(w http.ResponseWriter, message string) {
	body, _ := json.Marshal(struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Code    string `json:"code"`
	}{Error: message, Code: "idempotency_conflict"})
	writeRaw(w, http.StatusConflict, body)
}
