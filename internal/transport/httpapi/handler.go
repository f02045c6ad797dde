// Package httpapi: JSON API магазина поверх chi: корзина, checkout и статистика.
package httpapi

import (
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/admin"
	"github.com/vladislavdragonenkov/shop/internal/service/checkout"
	"github.com/vladislavdragonenkov/shop/internal/service/idempotency"
)

// Handler связывает маршруты с сервисами.
type Handler struct {
	checkout *checkout.Service
	admin    *admin.Service
	guard    *idempotency.Guard
	logger   *log.Entry
}

// NewHandler создаёт обработчики. guard может быть nil: тогда Idempotency-Key игнорируется.
func NewHandler(checkoutSvc *checkout.Service, adminSvc *admin.Service, guard *idempotency.Guard, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	if guard == nil {
		guard = idempotency.NewGuard(nil)
	}
	return &Handler{
		checkout: checkoutSvc,
		admin:    adminSvc,
		guard:    guard,
		logger:   logger,
	}
}

func (h *Handler) addToCart(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r.Body)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	in, err := parseAddToCart(body)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	cart, err := h.checkout.AddToCart(r.Context(), userIDFrom(r.Context()), in.ProductID, in.Quantity, in.PriceMinor)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, cart)
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.checkout.GetCart(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, cart)
}

func (h *Handler) checkoutCart(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	body, err := readBody(r.Body)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	code, err := parseCheckout(body)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	run := func() idempotency.Response {
		res, err := h.checkout.Checkout(r.Context(), userID, code)
		if err != nil {
			status, payload := marshalError(err)
			if status == http.StatusInternalServerError {
				h.logger.WithError(err).WithField("user_id", userID).Error("checkout failed")
			}
			return idempotency.Response{Status: status, Body: payload}
		}
		payload, err := marshalSuccess(res)
		if err != nil {
			h.logger.WithError(err).Error("failed to encode checkout response")
			status, payload := marshalError(err)
			return idempotency.Response{Status: status, Body: payload}
		}
		return idempotency.Response{Status: http.StatusCreated, Body: payload}
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" {
		resp := run()
		writeRaw(w, resp.Status, resp.Body)
		return
	}

	// Ключ действует в пространстве пользователя: чужой ключ не даёт доступа к чужому ответу.
	resp, replayed, err := h.guard.Do(userID+":"+key, idempotency.Fingerprint(r.Method, r.URL.Path, userID, code), run)
	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		writeConflict(w, "Idempotency key is already used with a different request")
		return
	case errors.Is(err, domain.ErrIdempotencyInProgress):
		writeConflict(w, "Request with the same idempotency key is already processing")
		return
	case err != nil:
		writeError(w, h.logger, err)
		return
	}

	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	writeRaw(w, resp.Status, resp.Body)
}

func (h *Handler) adminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, stats)
}

func (h *Handler) discountEligibility(w http.ResponseWriter, r *http.Request) {
	report, err := h.admin.EligibilityReport(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, report)
}
