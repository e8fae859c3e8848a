package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/inventory"
)

type InventoryService interface {
	ReceiveStock(ctx context.Context, in inventory.ReceiveStockInput) (inventory.Inventory, error)
	AdjustStock(ctx context.Context, in inventory.AdjustStockInput) (inventory.Inventory, error)
	GetInventory(ctx context.Context, storeID, productID string) (inventory.Inventory, error)
}

type InventoryHandler struct {
	svc InventoryService
	log *zap.Logger
}

func NewInventoryHandler(svc InventoryService, log *zap.Logger) *InventoryHandler {
	return &InventoryHandler{svc: svc, log: log}
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Post("/inventory/receipts", h.receive)
	r.Post("/inventory/adjustments", h.adjust)
	r.Get("/inventory/{storeID}/{productID}", h.get)
}

type stockRequest struct {
	StoreID         string `json:"store_id"`
	ProductID       string `json:"product_id"`
	Quantity        int    `json:"quantity"`
	Delta           int    `json:"delta"`
	ReferenceNumber string `json:"reference_number"`
}

type inventoryResponse struct {
	StoreID          string `json:"store_id"`
	ProductID        string `json:"product_id"`
	QuantityOnHand   int    `json:"quantity_on_hand"`
	ReservedQuantity int    `json:"reserved_quantity"`
	Available        int    `json:"available"`
}

func toInventoryResponse(inv inventory.Inventory) inventoryResponse {
	return inventoryResponse{
		StoreID:          inv.StoreID,
		ProductID:        inv.ProductID,
		QuantityOnHand:   inv.QuantityOnHand,
		ReservedQuantity: inv.ReservedQuantity,
		Available:        inv.Available(),
	}
}

func (h *InventoryHandler) receive(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if err := decodeJSON(r, &req); err != nil || req.StoreID == "" || req.ProductID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "store_id and product_id are required")
		return
	}
	inv, err := h.svc.ReceiveStock(r.Context(), inventory.ReceiveStockInput{
		StoreID:         req.StoreID,
		ProductID:       req.ProductID,
		Quantity:        req.Quantity,
		ReferenceNumber: req.ReferenceNumber,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResponse(inv))
}

func (h *InventoryHandler) adjust(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if err := decodeJSON(r, &req); err != nil || req.StoreID == "" || req.ProductID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "store_id and product_id are required")
		return
	}
	inv, err := h.svc.AdjustStock(r.Context(), inventory.AdjustStockInput{
		StoreID:         req.StoreID,
		ProductID:       req.ProductID,
		Delta:           req.Delta,
		ReferenceNumber: req.ReferenceNumber,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResponse(inv))
}

func (h *InventoryHandler) get(w http.ResponseWriter, r *http.Request) {
	inv, err := h.svc.GetInventory(r.Context(), chi.URLParam(r, "storeID"), chi.URLParam(r, "productID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResponse(inv))
}

func (h *InventoryHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, inventory.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, codeInvalidQuantity, err.Error())
	case errors.Is(err, inventory.ErrReferenceRequired):
		writeError(w, http.StatusBadRequest, codeReferenceRequired, err.Error())
	case errors.Is(err, inventory.ErrInventoryNotFound):
		writeError(w, http.StatusNotFound, codeInventoryNotFound, err.Error())
	case errors.Is(err, inventory.ErrInvariantViolation):
		writeError(w, http.StatusConflict, codeInsufficientStock, err.Error())
	default:
		h.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}
