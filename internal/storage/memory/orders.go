package memory

import (
	"context"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/orders"
)

type OrderStore struct {
	tx       txn
	orders   map[string]orders.Order
	external map[string]string
}

func NewOrderStore() *OrderStore {
	return &OrderStore{orders: map[string]orders.Order{}, external: map[string]string{}}
}

func (s *OrderStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.tx.run(ctx, func() func() {
		o, e := cloneMap(s.orders), cloneMap(s.external)
		return func() { s.orders, s.external = o, e }
	}, fn)
}

func (s *OrderStore) Create(ctx context.Context, o orders.Order) error {
	defer s.tx.read(ctx)()
	if o.ExternalID != "" {
		if _, ok := s.external[o.ExternalID]; ok {
			return orders.ErrDuplicateExternalID
		}
		s.external[o.ExternalID] = o.ID
	}
	s.orders[o.ID] = o
	return nil
}

func (s *OrderStore) Get(ctx context.Context, id string) (orders.Order, error) {
	defer s.tx.read(ctx)()
	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, nil
}

func (s *OrderStore) GetForUpdate(ctx context.Context, id string) (orders.Order, error) {
	return s.Get(ctx, id)
}

func (s *OrderStore) FindByExternalID(ctx context.Context, externalID string) (*orders.Order, error) {
	defer s.tx.read(ctx)()
	id, ok := s.external[externalID]
	if !ok {
		return nil, nil
	}
	o := s.orders[id]
	return &o, nil
}

func (s *OrderStore) UpdateStatus(ctx context.Context, o orders.Order) error {
	defer s.tx.read(ctx)()
	cur, ok := s.orders[o.ID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	cur.Status = o.Status
	cur.CancelReason = o.CancelReason
	cur.UpdatedAt = o.UpdatedAt
	cur.CompletedAt = o.CompletedAt
	cur.CancelledAt = o.CancelledAt
	s.orders[o.ID] = cur
	return nil
}
