package httpx

import (
	"encoding/json"
	"net/http"
)

const (
	codeInvalidRequestBody = "invalid_request_body"
	codeInvalidOrder       = "invalid_order"
	codeInvalidID          = "invalid_id"
	codeInvalidQuantity    = "invalid_quantity"
	codeReferenceRequired  = "reference_required"
	codeOrderNotFound      = "order_not_found"
	codeInventoryNotFound  = "inventory_not_found"
	codePaymentNotFound    = "payment_not_found"
	codeInvalidTransition  = "invalid_transition"
	codeInsufficientStock  = "insufficient_stock"
	codeNotRetryable       = "payment_not_retryable"
	codeAlreadySucceeded   = "payment_already_succeeded"
	codeIntentOpen         = "payment_intent_open"
	codeInvalidSignature   = "invalid_signature"
	codeInvalidWebhook     = "invalid_webhook"
	codeBusUnavailable     = "publish_failed"
	codeInternalError      = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
