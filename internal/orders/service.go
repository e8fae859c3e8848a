package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/clock"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/events"
)

type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// Create fails with ErrDuplicateExternalID when the external id is taken.
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	GetForUpdate(ctx context.Context, id string) (Order, error)
	// FindByExternalID returns nil when nothing matches.
	FindByExternalID(ctx context.Context, externalID string) (*Order, error)
	UpdateStatus(ctx context.Context, o Order) error
}

// Cache is the read side cache for GetOrder.
type Cache interface {
	Get(ctx context.Context, id string) (Order, bool, error)
	Set(ctx context.Context, o Order) error
}

type Service struct {
	repo    Repository
	cache   Cache
	emit    *bus.Emitter
	clock   clock.Clock
	log     *zap.Logger
	pricing Pricing
	reads   singleflight.Group
}

type Option func(*Service)

func WithCache(c Cache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

func NewService(repo Repository, emit *bus.Emitter, clk clock.Clock, log *zap.Logger, pricing Pricing, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		cache:   noCache{},
		emit:    emit,
		clock:   clk,
		log:     log,
		pricing: pricing,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ItemInput struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type CreateOrderInput struct {
	ExternalID string
	StoreID    string
	UserID     string
	Items      []ItemInput
}

func (in CreateOrderInput) validate() error {
	var problems []string
	if in.StoreID == "" {
		problems = append(problems, "store_id is required")
	}
	if in.UserID == "" {
		problems = append(problems, "user_id is required")
	}
	if len(in.Items) == 0 {
		problems = append(problems, "at least one item is required")
	}
	for i, it := range in.Items {
		if it.ProductID == "" {
			problems = append(problems, fmt.Sprintf("items[%d].product_id is required", i))
		}
		if it.Quantity <= 0 {
			problems = append(problems, fmt.Sprintf("items[%d].quantity must be positive", i))
		}
		if it.UnitPrice.IsNegative() {
			problems = append(problems, fmt.Sprintf("items[%d].unit_price must not be negative", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidOrder, strings.Join(problems, "; "))
	}
	return nil
}

// CreateOrder is the only synchronous step of the saga. With an external id the call is
// idempotent: a repeat returns the stored order (existed=true) and re-announces it while it is
// still pending, covering a publish lost on the first try.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (o Order, existed bool, err error) {
	if err := in.validate(); err != nil {
		return Order{}, false, err
	}

	if in.ExternalID != "" {
		prev, err := s.repo.FindByExternalID(ctx, in.ExternalID)
		if err != nil {
			return Order{}, false, fmt.Errorf("find by external id: %w", err)
		}
		if prev != nil {
			return s.replayCreated(ctx, *prev)
		}
	}

	now := s.clock.Now()
	o = Order{
		ID:         uuid.NewString(),
		ExternalID: in.ExternalID,
		StoreID:    in.StoreID,
		UserID:     in.UserID,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, it := range in.Items {
		o.Items = append(o.Items, Item{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	s.pricing.apply(&o)

	if err := s.repo.Create(ctx, o); err != nil {
		if errors.Is(err, ErrDuplicateExternalID) {
			prev, ferr := s.repo.FindByExternalID(ctx, in.ExternalID)
			if ferr == nil && prev != nil {
				return s.replayCreated(ctx, *prev)
			}
		}
		return Order{}, false, fmt.Errorf("create order: %w", err)
	}
	s.cacheSet(ctx, o)

	if err := s.emitCreated(ctx, o); err != nil {
		return o, false, err
	}
	s.log.Info("order created", zap.String("order_id", o.ID), zap.String("total", o.Total.StringFixed(2)))
	return o, false, nil
}

func (s *Service) replayCreated(ctx context.Context, o Order) (Order, bool, error) {
	if o.Status == StatusPending {
		if err := s.emitCreated(ctx, o); err != nil {
			return o, true, err
		}
	}
	return o, true, nil
}

func (s *Service) emitCreated(ctx context.Context, o Order) error {
	return s.emit.Emit(ctx, events.OrderCreated, events.PartitionKey(o.ID), events.OrderCreatedEvent{
		OrderID:  o.ID,
		StoreID:  o.StoreID,
		UserID:   o.UserID,
		Items:    o.EventItems(),
		Total:    o.Total,
		Currency: o.Currency,
	})
}

// GetOrder serves from the cache and collapses concurrent misses for the same id.
func (s *Service) GetOrder(ctx context.Context, id string) (Order, error) {
	o, ok, err := s.cache.Get(ctx, id)
	switch {
	case err != nil:
		s.log.Debug("order cache read failed", zap.String("order_id", id), zap.Error(err))
	case ok && o.Status.Valid():
		return o, nil
	case ok:
		// written by a build that knows statuses this one does not; reload from the store
		s.log.Warn("cached order has unknown status", zap.String("order_id", id), zap.String("status", string(o.Status)))
	}

	v, err, _ := s.reads.Do(id, func() (any, error) {
		o, err := s.repo.Get(ctx, id)
		if err != nil {
			return Order{}, err
		}
		s.cacheSet(ctx, o)
		return o, nil
	})
	if err != nil {
		return Order{}, err
	}
	return v.(Order), nil
}

// CancelOrder is the customer's cancel.
func (s *Service) CancelOrder(ctx context.Context, id string) (Order, error) {
	return s.operate(ctx, id, func(o Order, now time.Time) Decision { return OnCustomerCancel(o, now) })
}

// CompleteOrder records fulfilment of a paid order.
func (s *Service) CompleteOrder(ctx context.Context, id string) (Order, error) {
	return s.operate(ctx, id, OnFulfilled)
}

func (s *Service) operate(ctx context.Context, id string, decide func(Order, time.Time) Decision) (Order, error) {
	o, d, err := s.apply(ctx, id, decide)
	if err != nil {
		return Order{}, err
	}
	if d.Err != nil {
		return o, d.Err
	}
	return o, nil
}

// apply runs decide against the locked order, commits, then publishes what it asked for.
func (s *Service) apply(ctx context.Context, id string, decide func(Order, time.Time) Decision) (Order, Decision, error) {
	var (
		d       Decision
		current Order
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		current = o
		d = decide(o, s.clock.Now())
		if d.Apply {
			current = d.Order
			return s.repo.UpdateStatus(ctx, d.Order)
		}
		return nil
	})
	if err != nil {
		return Order{}, d, err
	}

	if d.Apply {
		s.cacheSet(ctx, current)
		s.log.Info("order status changed", zap.String("order_id", id), zap.String("status", string(current.Status)))
	}
	if !d.Apply && !d.Replay && d.Note != "" {
		s.log.Info("event ignored", zap.String("order_id", id), zap.String("status", string(current.Status)), zap.String("note", d.Note))
	}
	for _, out := range d.Emit {
		if err := s.emit.Emit(ctx, out.RoutingKey, events.PartitionKey(id), out.Payload); err != nil {
			return current, d, err
		}
	}
	return current, d, nil
}

func (s *Service) cacheSet(ctx context.Context, o Order) {
	if err := s.cache.Set(ctx, o); err != nil {
		s.log.Debug("order cache write failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

type noCache struct{}

func (noCache) Get(context.Context, string) (Order, bool, error) { return Order{}, false, nil }
func (noCache) Set(context.Context, Order) error                 { return nil }
