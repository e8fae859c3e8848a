package events

import "github.com/shopspring/decimal"

// ---- shared parts ----

type Item struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type UnavailableItem struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// ---- Order ----

type OrderCreatedEvent struct {
	OrderID  string          `json:"order_id"`
	StoreID  string          `json:"store_id"`
	UserID   string          `json:"user_id"`
	Items    []Item          `json:"items"`
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
}

type OrderCompletedEvent struct {
	OrderID string `json:"order_id"`
	StoreID string `json:"store_id"`
	Items   []Item `json:"items"`
}

type OrderCanceledEvent struct {
	OrderID string `json:"order_id"`
	StoreID string `json:"store_id"`
	Reason  string `json:"reason"`
	Items   []Item `json:"items"`
}

// ---- Warehouse ----

type ReserveStockCommand struct {
	OrderID string `json:"order_id"`
	StoreID string `json:"store_id"`
	Items   []Item `json:"items"`
}

type StockReservedEvent struct {
	OrderID string `json:"order_id"`
	StoreID string `json:"store_id"`
}

type StockReservationFailedEvent struct {
	OrderID string            `json:"order_id"`
	StoreID string            `json:"store_id"`
	Reason  string            `json:"reason"` // e.g. OUT_OF_STOCK
	Items   []UnavailableItem `json:"items,omitempty"`
}

type ProductLowStockEvent struct {
	StoreID        string `json:"store_id"`
	ProductID      string `json:"product_id"`
	QuantityOnHand int    `json:"quantity_on_hand"`
}

type ProductOutOfStockEvent struct {
	StoreID   string `json:"store_id"`
	ProductID string `json:"product_id"`
}

// ---- Payment ----

type CreatePaymentCommand struct {
	OrderID  string          `json:"order_id"`
	UserID   string          `json:"user_id"`
	StoreID  string          `json:"store_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type PaymentSucceededEvent struct {
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id"`
	IntentID  string          `json:"intent_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

type PaymentFailedEvent struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
}

// Failure reasons carried on compensating events.
const (
	ReasonOutOfStock       = "OUT_OF_STOCK"
	ReasonUnknownProduct   = "UNKNOWN_PRODUCT"
	ReasonPaymentFailed    = "PAYMENT_FAILED"
	ReasonCustomerCanceled = "CUSTOMER_CANCELED"
)
