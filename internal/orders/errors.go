package orders

import "errors"

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidOrder        = errors.New("invalid order")
	ErrInvalidTransition   = errors.New("order status does not allow this operation")
	ErrDuplicateExternalID = errors.New("external id already used")
	ErrInvalidID           = errors.New("invalid id")
)
