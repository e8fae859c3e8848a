package memory

import (
	"context"
	"sync/atomic"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/events"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/inventory"
)

type InventoryStore struct {
	tx           txn
	rows         map[string]inventory.Inventory // store|product
	txs          []inventory.StockTransaction
	refs         map[string]bool // inventory|type|reference
	reservations map[string]inventory.Reservation

	conflicts atomic.Int32
}

func NewInventoryStore() *InventoryStore {
	return &InventoryStore{
		rows:         map[string]inventory.Inventory{},
		refs:         map[string]bool{},
		reservations: map[string]inventory.Reservation{},
	}
}

// InjectConflicts makes the next n Update calls fail with ErrConcurrencyConflict, as if another
// writer had won the row.
func (s *InventoryStore) InjectConflicts(n int) { s.conflicts.Store(int32(n)) }

func (s *InventoryStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.tx.run(ctx, s.snapshot, fn)
}

func (s *InventoryStore) snapshot() func() {
	rows, refs, res := cloneMap(s.rows), cloneMap(s.refs), cloneMap(s.reservations)
	n := len(s.txs)
	return func() {
		s.rows, s.refs, s.reservations = rows, refs, res
		s.txs = s.txs[:n]
	}
}

func rowKey(storeID, productID string) string { return storeID + "|" + productID }

func (s *InventoryStore) GetForUpdate(ctx context.Context, storeID, productID string) (inventory.Inventory, error) {
	return s.Get(ctx, storeID, productID)
}

func (s *InventoryStore) Get(ctx context.Context, storeID, productID string) (inventory.Inventory, error) {
	defer s.tx.read(ctx)()
	inv, ok := s.rows[rowKey(storeID, productID)]
	if !ok {
		return inventory.Inventory{}, inventory.ErrInventoryNotFound
	}
	return inv, nil
}

func (s *InventoryStore) Create(ctx context.Context, inv inventory.Inventory) error {
	defer s.tx.read(ctx)()
	k := rowKey(inv.StoreID, inv.ProductID)
	if _, ok := s.rows[k]; ok {
		return inventory.ErrConcurrencyConflict
	}
	inv.Version = 1
	s.rows[k] = inv
	return nil
}

func (s *InventoryStore) Update(ctx context.Context, inv inventory.Inventory) error {
	defer s.tx.read(ctx)()
	if s.conflicts.Load() > 0 {
		s.conflicts.Add(-1)
		return inventory.ErrConcurrencyConflict
	}
	k := rowKey(inv.StoreID, inv.ProductID)
	cur, ok := s.rows[k]
	if !ok {
		return inventory.ErrInventoryNotFound
	}
	if cur.Version != inv.Version {
		return inventory.ErrConcurrencyConflict
	}
	if inv.ReservedQuantity < 0 || inv.ReservedQuantity > inv.QuantityOnHand {
		return inventory.ErrInvariantViolation
	}
	inv.Version++
	s.rows[k] = inv
	return nil
}

func refKey(inventoryID string, typ inventory.TxType, ref string) string {
	return inventoryID + "|" + string(typ) + "|" + ref
}

func (s *InventoryStore) AddTransaction(ctx context.Context, t inventory.StockTransaction) error {
	defer s.tx.read(ctx)()
	k := refKey(t.InventoryID, t.Type, t.ReferenceID)
	if (t.Type == inventory.TxRestock || t.Type == inventory.TxAdjustment) && s.refs[k] {
		return inventory.ErrConcurrencyConflict
	}
	s.refs[k] = true
	s.txs = append(s.txs, t)
	return nil
}

func (s *InventoryStore) HasTransaction(ctx context.Context, inventoryID string, typ inventory.TxType, referenceID string) (bool, error) {
	defer s.tx.read(ctx)()
	return s.refs[refKey(inventoryID, typ, referenceID)], nil
}

func (s *InventoryStore) GetReservation(ctx context.Context, orderID string) (*inventory.Reservation, error) {
	defer s.tx.read(ctx)()
	r, ok := s.reservations[orderID]
	if !ok {
		return nil, nil
	}
	r.Items = append([]inventory.ReservedItem(nil), r.Items...)
	r.Unavailable = append([]events.UnavailableItem(nil), r.Unavailable...)
	return &r, nil
}

func (s *InventoryStore) SaveReservation(ctx context.Context, r inventory.Reservation) error {
	defer s.tx.read(ctx)()
	s.reservations[r.OrderID] = r
	return nil
}

// Transactions returns the audit trail of one inventory row.
func (s *InventoryStore) Transactions(inventoryID string) []inventory.StockTransaction {
	s.tx.mu.Lock()
	defer s.tx.mu.Unlock()
	var out []inventory.StockTransaction
	for _, t := range s.txs {
		if t.InventoryID == inventoryID {
			out = append(out, t)
		}
	}
	return out
}
