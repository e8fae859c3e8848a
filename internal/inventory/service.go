package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/clock"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/events"
)

type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// GetForUpdate locks the row for the rest of the transaction.
	GetForUpdate(ctx context.Context, storeID, productID string) (Inventory, error)
	Get(ctx context.Context, storeID, productID string) (Inventory, error)
	Create(ctx context.Context, inv Inventory) error
	// Update writes inv if the stored version still equals inv.Version, else ErrConcurrencyConflict.
	Update(ctx context.Context, inv Inventory) error
	AddTransaction(ctx context.Context, tx StockTransaction) error
	HasTransaction(ctx context.Context, inventoryID string, typ TxType, referenceID string) (bool, error)
	// GetReservation returns nil when the order has no reservation row yet.
	GetReservation(ctx context.Context, orderID string) (*Reservation, error)
	SaveReservation(ctx context.Context, r Reservation) error
}

type Service struct {
	repo            Repository
	emit            *bus.Emitter
	clock           clock.Clock
	log             *zap.Logger
	lowStock        int
	conflictRetries int
}

type Option func(*Service)

func WithLowStockThreshold(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.lowStock = n
		}
	}
}

// WithConflictRetries bounds how often a command is re-run after ErrConcurrencyConflict before
// the error is handed to the bus for redelivery.
func WithConflictRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.conflictRetries = n
		}
	}
}

func NewService(repo Repository, emit *bus.Emitter, clk clock.Clock, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:            repo,
		emit:            emit,
		clock:           clk,
		log:             log,
		lowStock:        DefaultLowStockThreshold,
		conflictRetries: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var errRejected = errors.New("reservation rejected")

// Reserve holds stock for every item of an order, or for none of them.
func (s *Service) Reserve(ctx context.Context, cmd events.ReserveStockCommand) error {
	items, err := mergeItems(cmd.Items)
	if err != nil {
		return fmt.Errorf("%w: order %s: %v", bus.ErrMalformed, cmd.OrderID, err)
	}

	var (
		existing    *Reservation
		unavailable []events.UnavailableItem
		reason      string
	)
	err = s.retryConflicts(ctx, func() error {
		existing, unavailable, reason = nil, nil, events.ReasonOutOfStock
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			r, err := s.repo.GetReservation(ctx, cmd.OrderID)
			if err != nil {
				return err
			}
			if r != nil {
				existing = r
				return nil
			}

			now := s.clock.Now()
			res := Reservation{OrderID: cmd.OrderID, StoreID: cmd.StoreID, Status: ReservationReserved, CreatedAt: now, UpdatedAt: now}
			for _, it := range items {
				inv, err := s.repo.GetForUpdate(ctx, cmd.StoreID, it.ProductID)
				if errors.Is(err, ErrInventoryNotFound) {
					reason = events.ReasonUnknownProduct
					unavailable = append(unavailable, events.UnavailableItem{ProductID: it.ProductID, Requested: it.Quantity})
					continue
				}
				if err != nil {
					return err
				}
				if !inv.TryReserve(it.Quantity) {
					unavailable = append(unavailable, events.UnavailableItem{
						ProductID: it.ProductID, Requested: it.Quantity, Available: inv.Available(),
					})
					continue
				}
				if err := s.write(ctx, inv, TxReservation, it.Quantity, cmd.OrderID); err != nil {
					return err
				}
				res.Items = append(res.Items, ReservedItem{InventoryID: inv.ID, ProductID: it.ProductID, Quantity: it.Quantity})
			}
			if len(unavailable) > 0 {
				return errRejected
			}
			return s.repo.SaveReservation(ctx, res)
		})
	})

	switch {
	case errors.Is(err, errRejected):
		return s.reject(ctx, cmd, reason, unavailable)
	case err != nil:
		return fmt.Errorf("reserve order %s: %w", cmd.OrderID, err)
	case existing != nil:
		switch existing.Status {
		case ReservationReserved, ReservationSettled:
			s.log.Info("reservation replayed", zap.String("order_id", cmd.OrderID))
			return s.emitReserved(ctx, cmd)
		case ReservationRejected:
			// the failure event was published when the row was written; send it again
			return s.emitRejected(ctx, cmd, existing.rejectionReason(), existing.Unavailable)
		default:
			s.log.Info("reserve skipped, order already released", zap.String("order_id", cmd.OrderID))
			return nil
		}
	}

	s.log.Info("stock reserved", zap.String("order_id", cmd.OrderID), zap.Int("items", len(items)))
	return s.emitReserved(ctx, cmd)
}

func (s *Service) reject(ctx context.Context, cmd events.ReserveStockCommand, reason string, unavailable []events.UnavailableItem) error {
	var status ReservationStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		r, err := s.repo.GetReservation(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if r != nil {
			status = r.Status
			if r.Status == ReservationRejected {
				// a concurrent delivery got here first; repeat its answer
				reason, unavailable = r.rejectionReason(), r.Unavailable
			}
			return nil
		}
		now := s.clock.Now()
		status = ReservationRejected
		return s.repo.SaveReservation(ctx, Reservation{
			OrderID: cmd.OrderID, StoreID: cmd.StoreID, Status: ReservationRejected,
			Reason: reason, Unavailable: unavailable, CreatedAt: now, UpdatedAt: now,
		})
	})
	if err != nil {
		return fmt.Errorf("record rejection for order %s: %w", cmd.OrderID, err)
	}
	switch status {
	case ReservationRejected:
		s.log.Info("stock reservation failed",
			zap.String("order_id", cmd.OrderID), zap.String("reason", reason), zap.Any("items", unavailable))
		return s.emitRejected(ctx, cmd, reason, unavailable)
	case ReservationReserved, ReservationSettled:
		return s.emitReserved(ctx, cmd)
	}
	return nil
}

func (s *Service) emitReserved(ctx context.Context, cmd events.ReserveStockCommand) error {
	return s.emit.Emit(ctx, events.StockReserved, events.PartitionKey(cmd.OrderID),
		events.StockReservedEvent{OrderID: cmd.OrderID, StoreID: cmd.StoreID})
}

func (s *Service) emitRejected(ctx context.Context, cmd events.ReserveStockCommand, reason string, items []events.UnavailableItem) error {
	return s.emit.Emit(ctx, events.StockReservationFailed, events.PartitionKey(cmd.OrderID),
		events.StockReservationFailedEvent{OrderID: cmd.OrderID, StoreID: cmd.StoreID, Reason: reason, Items: items})
}

// Release hands reserved stock back after a cancel. A cancel that overtakes its reserve
// command leaves a tombstone so the late reserve becomes a no-op.
func (s *Service) Release(ctx context.Context, evt events.OrderCanceledEvent) error {
	err := s.retryConflicts(ctx, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			r, err := s.repo.GetReservation(ctx, evt.OrderID)
			if err != nil {
				return err
			}
			now := s.clock.Now()
			if r == nil {
				return s.repo.SaveReservation(ctx, Reservation{
					OrderID: evt.OrderID, StoreID: evt.StoreID, Status: ReservationReleased, CreatedAt: now, UpdatedAt: now,
				})
			}
			if r.Status != ReservationReserved {
				return nil
			}
			for _, it := range r.Items {
				inv, err := s.repo.GetForUpdate(ctx, r.StoreID, it.ProductID)
				if err != nil {
					return err
				}
				released := inv.Release(it.Quantity)
				if released == 0 {
					continue
				}
				if err := s.write(ctx, inv, TxReservation, -released, evt.OrderID); err != nil {
					return err
				}
			}
			r.Status, r.UpdatedAt = ReservationReleased, now
			return s.repo.SaveReservation(ctx, *r)
		})
	})
	if err != nil {
		return fmt.Errorf("release order %s: %w", evt.OrderID, err)
	}
	s.log.Info("reservation released", zap.String("order_id", evt.OrderID), zap.String("reason", evt.Reason))
	return nil
}

// Settle converts an order's reservation into a sale and reports stock level crossings.
func (s *Service) Settle(ctx context.Context, evt events.OrderCompletedEvent) error {
	var alerts []alert
	err := s.retryConflicts(ctx, func() error {
		alerts = nil
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			r, err := s.repo.GetReservation(ctx, evt.OrderID)
			if err != nil {
				return err
			}
			if r == nil {
				return ErrReservationNotFound
			}
			if r.Status != ReservationReserved {
				s.log.Info("settle skipped", zap.String("order_id", evt.OrderID), zap.String("status", string(r.Status)))
				return nil
			}
			for _, it := range r.Items {
				inv, err := s.repo.GetForUpdate(ctx, r.StoreID, it.ProductID)
				if err != nil {
					return err
				}
				before := inv.QuantityOnHand
				if err := inv.Settle(it.Quantity); err != nil {
					return err
				}
				if err := s.write(ctx, inv, TxSale, -it.Quantity, evt.OrderID); err != nil {
					return err
				}
				alerts = append(alerts, levelAlerts(inv.StoreID, inv.ProductID, before, inv.QuantityOnHand, s.lowStock)...)
			}
			r.Status, r.UpdatedAt = ReservationSettled, s.clock.Now()
			return s.repo.SaveReservation(ctx, *r)
		})
	})
	if err != nil {
		return fmt.Errorf("settle order %s: %w", evt.OrderID, err)
	}
	s.log.Info("order settled", zap.String("order_id", evt.OrderID))
	return s.publishAlerts(ctx, alerts)
}

type ReceiveStockInput struct {
	StoreID         string
	ProductID       string
	Quantity        int
	ReferenceNumber string
}

// ReceiveStock books a goods receipt. A reference number that was already booked for the
// row returns the current stock without changing it.
func (s *Service) ReceiveStock(ctx context.Context, in ReceiveStockInput) (Inventory, error) {
	if in.Quantity <= 0 {
		return Inventory{}, ErrInvalidQuantity
	}
	if in.ReferenceNumber == "" {
		return Inventory{}, ErrReferenceRequired
	}

	var out Inventory
	err := s.retryConflicts(ctx, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			inv, err := s.repo.GetForUpdate(ctx, in.StoreID, in.ProductID)
			created := false
			switch {
			case errors.Is(err, ErrInventoryNotFound):
				inv = Inventory{ID: uuid.NewString(), StoreID: in.StoreID, ProductID: in.ProductID}
				created = true
			case err != nil:
				return err
			default:
				dup, err := s.repo.HasTransaction(ctx, inv.ID, TxRestock, in.ReferenceNumber)
				if err != nil {
					return err
				}
				if dup {
					out = inv
					return nil
				}
			}

			if err := inv.Receive(in.Quantity); err != nil {
				return err
			}
			if created {
				inv.UpdatedAt = s.clock.Now()
				if err := s.repo.Create(ctx, inv); err != nil {
					return err
				}
				if err := s.addTx(ctx, inv.ID, TxRestock, in.Quantity, in.ReferenceNumber); err != nil {
					return err
				}
				out = inv
				return nil
			}
			if err := s.write(ctx, inv, TxRestock, in.Quantity, in.ReferenceNumber); err != nil {
				return err
			}
			inv.Version++
			out = inv
			return nil
		})
	})
	if err != nil {
		return Inventory{}, fmt.Errorf("receive stock: %w", err)
	}
	return out, nil
}

type AdjustStockInput struct {
	StoreID         string
	ProductID       string
	Delta           int
	ReferenceNumber string
}

// AdjustStock applies a stocktake correction. Downward corrections report level crossings
// the same way sales do.
func (s *Service) AdjustStock(ctx context.Context, in AdjustStockInput) (Inventory, error) {
	if in.Delta == 0 {
		return Inventory{}, ErrInvalidQuantity
	}
	if in.ReferenceNumber == "" {
		return Inventory{}, ErrReferenceRequired
	}

	var (
		out    Inventory
		alerts []alert
	)
	err := s.retryConflicts(ctx, func() error {
		alerts = nil
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			inv, err := s.repo.GetForUpdate(ctx, in.StoreID, in.ProductID)
			if err != nil {
				return err
			}
			dup, err := s.repo.HasTransaction(ctx, inv.ID, TxAdjustment, in.ReferenceNumber)
			if err != nil {
				return err
			}
			if dup {
				out = inv
				return nil
			}
			before := inv.QuantityOnHand
			if err := inv.Adjust(in.Delta); err != nil {
				return err
			}
			if err := s.write(ctx, inv, TxAdjustment, in.Delta, in.ReferenceNumber); err != nil {
				return err
			}
			inv.Version++
			out = inv
			alerts = levelAlerts(inv.StoreID, inv.ProductID, before, inv.QuantityOnHand, s.lowStock)
			return nil
		})
	})
	if err != nil {
		return Inventory{}, fmt.Errorf("adjust stock: %w", err)
	}
	if err := s.publishAlerts(ctx, alerts); err != nil {
		s.log.Warn("stock alert publish failed", zap.Error(err))
	}
	return out, nil
}

func (s *Service) GetInventory(ctx context.Context, storeID, productID string) (Inventory, error) {
	return s.repo.Get(ctx, storeID, productID)
}

// write persists inv with its version check and appends the audit row.
func (s *Service) write(ctx context.Context, inv Inventory, typ TxType, delta int, ref string) error {
	inv.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, inv); err != nil {
		return err
	}
	return s.addTx(ctx, inv.ID, typ, delta, ref)
}

func (s *Service) addTx(ctx context.Context, inventoryID string, typ TxType, delta int, ref string) error {
	return s.repo.AddTransaction(ctx, StockTransaction{
		ID:          uuid.NewString(),
		InventoryID: inventoryID,
		Type:        typ,
		Delta:       delta,
		ReferenceID: ref,
		CreatedAt:   s.clock.Now(),
	})
}

func (s *Service) publishAlerts(ctx context.Context, alerts []alert) error {
	for _, a := range alerts {
		if err := s.emit.Emit(ctx, a.routingKey, a.key, a.payload); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) retryConflicts(ctx context.Context, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 10 * time.Millisecond
	exp.MaxInterval = 200 * time.Millisecond
	bo := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.conflictRetries)), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err != nil && !errors.Is(err, ErrConcurrencyConflict) {
			return backoff.Permanent(err)
		}
		if err != nil {
			s.log.Debug("inventory conflict, retrying", zap.Error(err))
		}
		return err
	}, bo)
}

// mergeItems folds duplicate product lines and sorts by product id so concurrent reservations
// lock rows in the same order.
func mergeItems(items []events.Item) ([]events.Item, error) {
	if len(items) == 0 {
		return nil, errors.New("no items")
	}
	byProduct := map[string]int{}
	for _, it := range items {
		if it.ProductID == "" || it.Quantity <= 0 {
			return nil, fmt.Errorf("bad line %q x %d", it.ProductID, it.Quantity)
		}
		byProduct[it.ProductID] += it.Quantity
	}
	out := make([]events.Item, 0, len(byProduct))
	for pid, qty := range byProduct {
		out = append(out, events.Item{ProductID: pid, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}
