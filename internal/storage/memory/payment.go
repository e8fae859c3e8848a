package memory

import (
	"context"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/payment"
)

type PaymentStore struct {
	tx       txn
	payments map[string]payment.Payment
	active   map[string]string // order id -> payment id
	intents  map[string]string // intent id -> payment id
}

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{
		payments: map[string]payment.Payment{},
		active:   map[string]string{},
		intents:  map[string]string{},
	}
}

func (s *PaymentStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.tx.run(ctx, func() func() {
		p, a, i := cloneMap(s.payments), cloneMap(s.active), cloneMap(s.intents)
		return func() { s.payments, s.active, s.intents = p, a, i }
	}, fn)
}

func (s *PaymentStore) GetActive(ctx context.Context, orderID string) (*payment.Payment, error) {
	defer s.tx.read(ctx)()
	id, ok := s.active[orderID]
	if !ok {
		return nil, nil
	}
	p := s.payments[id]
	return &p, nil
}

func (s *PaymentStore) GetByIntent(ctx context.Context, intentID string) (payment.Payment, error) {
	defer s.tx.read(ctx)()
	id, ok := s.intents[intentID]
	if !ok {
		return payment.Payment{}, payment.ErrPaymentNotFound
	}
	return s.payments[id], nil
}

func (s *PaymentStore) Create(ctx context.Context, p payment.Payment) error {
	defer s.tx.read(ctx)()
	if _, ok := s.active[p.OrderID]; ok {
		return payment.ErrDuplicatePayment
	}
	s.put(p)
	return nil
}

func (s *PaymentStore) Update(ctx context.Context, p payment.Payment) error {
	defer s.tx.read(ctx)()
	if _, ok := s.payments[p.ID]; !ok {
		return payment.ErrPaymentNotFound
	}
	s.put(p)
	return nil
}

func (s *PaymentStore) put(p payment.Payment) {
	s.payments[p.ID] = p
	if p.IntentID != "" {
		s.intents[p.IntentID] = p.ID
	}
	if p.Superseded {
		if s.active[p.OrderID] == p.ID {
			delete(s.active, p.OrderID)
		}
		return
	}
	s.active[p.OrderID] = p.ID
}

// Attempts lists every payment row of an order, superseded ones included.
func (s *PaymentStore) Attempts(orderID string) []payment.Payment {
	s.tx.mu.Lock()
	defer s.tx.mu.Unlock()
	var out []payment.Payment
	for _, p := range s.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out
}
