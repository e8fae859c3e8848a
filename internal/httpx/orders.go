package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/orders"
)

type OrderService interface {
	CreateOrder(ctx context.Context, in orders.CreateOrderInput) (orders.Order, bool, error)
	GetOrder(ctx context.Context, id string) (orders.Order, error)
	CancelOrder(ctx context.Context, id string) (orders.Order, error)
	CompleteOrder(ctx context.Context, id string) (orders.Order, error)
}

type OrdersHandler struct {
	svc OrderService
	log *zap.Logger
}

func NewOrdersHandler(svc OrderService, log *zap.Logger) *OrdersHandler {
	return &OrdersHandler{svc: svc, log: log}
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/orders/{id}/complete", h.completeOrder)
}

type createOrderRequest struct {
	ExternalID string             `json:"external_id"`
	StoreID    string             `json:"store_id"`
	UserID     string             `json:"user_id"`
	Items      []orders.ItemInput `json:"items"`
}

type createOrderResponse struct {
	orders.Order
	Idempotent bool `json:"idempotent"`
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid json")
		return
	}

	o, existed, err := h.svc.CreateOrder(r.Context(), orders.CreateOrderInput{
		ExternalID: req.ExternalID,
		StoreID:    req.StoreID,
		UserID:     req.UserID,
		Items:      req.Items,
	})
	switch {
	case errors.Is(err, orders.ErrInvalidOrder):
		writeError(w, http.StatusBadRequest, codeInvalidOrder, err.Error())
		return
	case err != nil && o.ID != "":
		// stored but not announced; the client retries with the same external id
		h.log.Error("order created but not published", zap.String("order_id", o.ID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, codeBusUnavailable, "order "+o.ID+" accepted but not yet processed, retry with the same external_id")
		return
	case err != nil:
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, createOrderResponse{Order: o, Idempotent: existed})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.orderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.CancelOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.orderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) completeOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.CompleteOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.orderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) orderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, codeOrderNotFound, err.Error())
	case errors.Is(err, orders.ErrInvalidID):
		writeError(w, http.StatusBadRequest, codeInvalidID, err.Error())
	case errors.Is(err, orders.ErrInvalidTransition):
		writeError(w, http.StatusConflict, codeInvalidTransition, err.Error())
	default:
		h.internalError(w, err)
	}
}

func (h *OrdersHandler) internalError(w http.ResponseWriter, err error) {
	h.log.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
