package inventory

import (
	"context"

	"go.uber.org/zap"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/events"
)

// Routes binds the warehouse side of the saga.
func (s *Service) Routes() []bus.Route {
	return []bus.Route{
		{Binding: bus.Binding{RoutingKey: events.ReserveStock, Queue: "warehouse.reserve-stock"}, Handler: s.HandleReserveStock},
		{Binding: bus.Binding{RoutingKey: events.OrderCanceled, Queue: "warehouse.release-stock"}, Handler: s.HandleOrderCanceled},
		{Binding: bus.Binding{RoutingKey: events.OrderCompleted, Queue: "warehouse.settle-stock"}, Handler: s.HandleOrderCompleted},
		{Binding: bus.Binding{RoutingKey: events.ProductLowStock, Queue: "warehouse.stock-alerts.low"}, Handler: s.HandleStockAlert},
		{Binding: bus.Binding{RoutingKey: events.ProductOutOfStock, Queue: "warehouse.stock-alerts.out"}, Handler: s.HandleStockAlert},
	}
}

func (s *Service) HandleReserveStock(ctx context.Context, msg bus.Message) error {
	_, cmd, err := bus.Decode[events.ReserveStockCommand](msg)
	if err != nil {
		return err
	}
	return s.Reserve(ctx, cmd)
}

func (s *Service) HandleOrderCanceled(ctx context.Context, msg bus.Message) error {
	_, evt, err := bus.Decode[events.OrderCanceledEvent](msg)
	if err != nil {
		return err
	}
	return s.Release(ctx, evt)
}

func (s *Service) HandleOrderCompleted(ctx context.Context, msg bus.Message) error {
	_, evt, err := bus.Decode[events.OrderCompletedEvent](msg)
	if err != nil {
		return err
	}
	return s.Settle(ctx, evt)
}

// HandleStockAlert keeps a durable consumer on the stock level keys so they stay routable and
// leaves a log line for the buyers.
func (s *Service) HandleStockAlert(_ context.Context, msg bus.Message) error {
	switch msg.RoutingKey {
	case events.ProductOutOfStock:
		_, evt, err := bus.Decode[events.ProductOutOfStockEvent](msg)
		if err != nil {
			return err
		}
		s.log.Warn("product out of stock", zap.String("store_id", evt.StoreID), zap.String("product_id", evt.ProductID))
	default:
		_, evt, err := bus.Decode[events.ProductLowStockEvent](msg)
		if err != nil {
			return err
		}
		s.log.Warn("product low on stock",
			zap.String("store_id", evt.StoreID), zap.String("product_id", evt.ProductID), zap.Int("on_hand", evt.QuantityOnHand))
	}
	return nil
}
