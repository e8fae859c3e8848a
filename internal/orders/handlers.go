package orders

import (
	"context"
	"time"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/events"
)

// Routes binds the order side of the saga.
func (s *Service) Routes() []bus.Route {
	return []bus.Route{
		{Binding: bus.Binding{RoutingKey: events.OrderCreated, Queue: "order.request-stock"}, Handler: s.HandleOrderCreated},
		{Binding: bus.Binding{RoutingKey: events.StockReserved, Queue: "order.stock-reserved"}, Handler: s.HandleStockReserved},
		{Binding: bus.Binding{RoutingKey: events.StockReservationFailed, Queue: "order.stock-failed"}, Handler: s.HandleStockReservationFailed},
		{Binding: bus.Binding{RoutingKey: events.PaymentSucceeded, Queue: "order.payment-succeeded"}, Handler: s.HandlePaymentSucceeded},
		{Binding: bus.Binding{RoutingKey: events.PaymentFailed, Queue: "order.payment-failed"}, Handler: s.HandlePaymentFailed},
	}
}

func (s *Service) HandleOrderCreated(ctx context.Context, msg bus.Message) error {
	_, evt, err := bus.Decode[events.OrderCreatedEvent](msg)
	if err != nil {
		return err
	}
	_, _, err = s.apply(ctx, evt.OrderID, func(o Order, _ time.Time) Decision { return OnOrderCreated(o) })
	return err
}

func (s *Service) HandleStockReserved(ctx context.Context, msg bus.Message) error {
	_, evt, err := bus.Decode[events.StockReservedEvent](msg)
	if err != nil {
		return err
	}
	_, _, err = s.apply(ctx, evt.OrderID, func(o Order, now time.Time) Decision { return OnStockReserved(o, evt, now) })
	return err
}

func (s *Service) HandleStockReservationFailed(ctx context.Context, msg bus.Message) error {
	_, evt, err := bus.Decode[events.StockReservationFailedEvent](msg)
	if err != nil {
		return err
	}
	_, _, err = s.apply(ctx, evt.OrderID, func(o Order, now time.Time) Decision { return OnStockReservationFailed(o, evt, now) })
	return err
}

func (s *Service) HandlePaymentSucceeded(ctx context.Context, msg bus.Message) error {
	_, evt, err := bus.Decode[events.PaymentSucceededEvent](msg)
	if err != nil {
		return err
	}
	_, _, err = s.apply(ctx, evt.OrderID, func(o Order, now time.Time) Decision { return OnPaymentSucceeded(o, evt, now) })
	return err
}

func (s *Service) HandlePaymentFailed(ctx context.Context, msg bus.Message) error {
	_, evt, err := bus.Decode[events.PaymentFailedEvent](msg)
	if err != nil {
		return err
	}
	_, _, err = s.apply(ctx, evt.OrderID, func(o Order, now time.Time) Decision { return OnPaymentFailed(o, evt, now) })
	return err
}
