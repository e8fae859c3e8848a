package payment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending              Status = "PENDING"
	StatusRequiresConfirmation Status = "REQUIRES_CONFIRMATION"
	StatusSucceeded            Status = "SUCCEEDED"
	StatusFailed               Status = "FAILED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:              {StatusRequiresConfirmation: true, StatusFailed: true},
	StatusRequiresConfirmation: {StatusSucceeded: true, StatusFailed: true},
	StatusSucceeded:            {},
	StatusFailed:               {},
}

func CanTransition(from, to Status) bool { return validNext[from][to] }

// Payment is one attempt to collect an order's total. Only one attempt per order is active;
// older ones are kept with Superseded set.
type Payment struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"order_id"`
	UserID         string          `json:"user_id"`
	StoreID        string          `json:"store_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IntentID       string          `json:"intent_id,omitempty"`
	ClientSecret   string          `json:"client_secret,omitempty"`
	Status         Status          `json:"status"`
	FailureMessage string          `json:"failure_message,omitempty"`
	Superseded     bool            `json:"superseded"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

var (
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrDuplicatePayment   = errors.New("order already has an active payment")
	ErrNotRetryable       = errors.New("payment cannot be retried")
	ErrAlreadySucceeded   = errors.New("payment already succeeded")
	ErrIntentOpen         = errors.New("payment intent is open at the provider")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrInvalidWebhook     = errors.New("invalid webhook payload")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)
