package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/payment"
)

type PaymentService interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) error
	RetryPayment(ctx context.Context, orderID string) (payment.Payment, error)
	AbandonPayment(ctx context.Context, orderID, reason string) (payment.Payment, error)
	GetPayment(ctx context.Context, orderID string) (payment.Payment, error)
}

type PaymentsHandler struct {
	svc PaymentService
	log *zap.Logger
}

func NewPaymentsHandler(svc PaymentService, log *zap.Logger) *PaymentsHandler {
	return &PaymentsHandler{svc: svc, log: log}
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/webhooks/payments", h.webhook)
	r.Get("/payments/{orderID}", h.get)
	r.Post("/payments/{orderID}/retry", h.retry)
	r.Post("/payments/{orderID}/abandon", h.abandon)
}

const maxWebhookBody = 64 << 10

// webhook answers 2xx only once the event is stored; anything else makes the provider retry.
func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "unreadable body")
		return
	}
	if err := h.svc.HandleWebhook(r.Context(), body, r.Header.Get(payment.SignatureHeader)); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PaymentsHandler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetPayment(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PaymentsHandler) retry(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.RetryPayment(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, p)
}

type abandonRequest struct {
	Reason string `json:"reason"`
}

func (h *PaymentsHandler) abandon(w http.ResponseWriter, r *http.Request) {
	var req abandonRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid json")
			return
		}
	}
	p, err := h.svc.AbandonPayment(r.Context(), chi.URLParam(r, "orderID"), req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PaymentsHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, codeInvalidSignature, err.Error())
	case errors.Is(err, payment.ErrInvalidWebhook):
		writeError(w, http.StatusBadRequest, codeInvalidWebhook, err.Error())
	case errors.Is(err, payment.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, codePaymentNotFound, err.Error())
	case errors.Is(err, payment.ErrNotRetryable):
		writeError(w, http.StatusConflict, codeNotRetryable, err.Error())
	case errors.Is(err, payment.ErrAlreadySucceeded):
		writeError(w, http.StatusConflict, codeAlreadySucceeded, err.Error())
	case errors.Is(err, payment.ErrIntentOpen):
		writeError(w, http.StatusConflict, codeIntentOpen, err.Error())
	default:
		h.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}
