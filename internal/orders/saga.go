package orders

import (
	"fmt"
	"time"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/events"
)

type Outgoing struct {
	RoutingKey string
	Payload    any
}

// Decision is what an order does with one incoming event. Reactions are pure so the same input
// always produces the same outcome, which is what makes redelivery safe.
type Decision struct {
	Apply bool  // persist Order
	Order Order // next state, set when Apply
	Emit  []Outgoing
	// Replay is set when the order already sits in the state the event leads to; Emit then
	// carries the message that state produced, published again in case it was lost.
	Replay bool
	Note   string // why the event was ignored
	Err    error  // only for user initiated operations
}

func advance(o Order, to Status, now time.Time, out Outgoing) Decision {
	if o.Status == to {
		return Decision{Replay: true, Emit: []Outgoing{out}}
	}
	if !CanTransition(o.Status, to) {
		return Decision{
			Note: fmt.Sprintf("%s -> %s not allowed", o.Status, to),
			Err:  fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to),
		}
	}
	o.Status = to
	o.UpdatedAt = now
	switch to {
	case StatusPaid:
		o.CompletedAt = &now
	case StatusCancelled:
		o.CancelledAt = &now
	}
	return Decision{Apply: true, Order: o, Emit: []Outgoing{out}}
}

// OnOrderCreated relays a fresh order to the warehouse.
func OnOrderCreated(o Order) Decision {
	if o.Status != StatusPending {
		return Decision{Note: fmt.Sprintf("order is %s, reservation no longer wanted", o.Status)}
	}
	return Decision{Emit: []Outgoing{{
		RoutingKey: events.ReserveStock,
		Payload:    events.ReserveStockCommand{OrderID: o.ID, StoreID: o.StoreID, Items: o.EventItems()},
	}}}
}

func OnStockReserved(o Order, _ events.StockReservedEvent, now time.Time) Decision {
	return advance(o, StatusPendingPayment, now, Outgoing{
		RoutingKey: events.CreatePayment,
		Payload: events.CreatePaymentCommand{
			OrderID: o.ID, UserID: o.UserID, StoreID: o.StoreID, Amount: o.Total, Currency: o.Currency,
		},
	})
}

func OnStockReservationFailed(o Order, e events.StockReservationFailedEvent, now time.Time) Decision {
	return cancel(o, "stock reservation failed: "+e.Reason, now)
}

func OnPaymentSucceeded(o Order, _ events.PaymentSucceededEvent, now time.Time) Decision {
	return advance(o, StatusPaid, now, Outgoing{
		RoutingKey: events.OrderCompleted,
		Payload:    events.OrderCompletedEvent{OrderID: o.ID, StoreID: o.StoreID, Items: o.EventItems()},
	})
}

func OnPaymentFailed(o Order, e events.PaymentFailedEvent, now time.Time) Decision {
	reason := "payment failed"
	if e.Reason != "" {
		reason += ": " + e.Reason
	}
	return cancel(o, reason, now)
}

// OnCustomerCancel is only possible before the warehouse answered. Once a payment exists the
// way out is abandoning it on the payment side.
func OnCustomerCancel(o Order, now time.Time) Decision {
	if o.Status != StatusPending && o.Status != StatusCancelled {
		return Decision{Err: fmt.Errorf("%w: cannot cancel a %s order", ErrInvalidTransition, o.Status)}
	}
	return cancel(o, events.ReasonCustomerCanceled, now)
}

// OnFulfilled closes a paid order.
func OnFulfilled(o Order, now time.Time) Decision {
	d := advance(o, StatusCompleted, now, Outgoing{})
	d.Emit = nil
	return d
}

func cancel(o Order, reason string, now time.Time) Decision {
	d := advance(o, StatusCancelled, now, Outgoing{})
	switch {
	case d.Apply:
		d.Order.CancelReason = reason
		o = d.Order
	case !d.Replay:
		return d
	}
	d.Emit = []Outgoing{{
		RoutingKey: events.OrderCanceled,
		Payload:    events.OrderCanceledEvent{OrderID: o.ID, StoreID: o.StoreID, Reason: o.CancelReason, Items: o.EventItems()},
	}}
	return d
}
