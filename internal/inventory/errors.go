package inventory

import "errors"

var (
	ErrInventoryNotFound   = errors.New("inventory not found")
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrConcurrencyConflict means the row changed between read and write; the operation is retried.
	ErrConcurrencyConflict = errors.New("inventory concurrency conflict")
	ErrInvariantViolation  = errors.New("inventory invariant violated")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrReferenceRequired   = errors.New("reference number required")
)
