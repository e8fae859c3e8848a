package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/inventory"
)

type InventoryRepository struct {
	querier
}

func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{querier{pool: pool}}
}

const inventoryColumns = `id, store_id, product_id, quantity_on_hand, reserved_quantity, version, updated_at`

func (r *InventoryRepository) GetForUpdate(ctx context.Context, storeID, productID string) (inventory.Inventory, error) {
	return r.get(ctx, `SELECT `+inventoryColumns+` FROM inventory WHERE store_id = $1 AND product_id = $2 FOR UPDATE`, storeID, productID)
}

func (r *InventoryRepository) Get(ctx context.Context, storeID, productID string) (inventory.Inventory, error) {
	return r.get(ctx, `SELECT `+inventoryColumns+` FROM inventory WHERE store_id = $1 AND product_id = $2`, storeID, productID)
}

func (r *InventoryRepository) get(ctx context.Context, query, storeID, productID string) (inventory.Inventory, error) {
	var inv inventory.Inventory
	err := r.queryRow(ctx, query, storeID, productID).
		Scan(&inv.ID, &inv.StoreID, &inv.ProductID, &inv.QuantityOnHand, &inv.ReservedQuantity, &inv.Version, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.Inventory{}, inventory.ErrInventoryNotFound
		}
		return inventory.Inventory{}, fmt.Errorf("get inventory: %w", mapInventoryErr(err))
	}
	return inv, nil
}

func (r *InventoryRepository) Create(ctx context.Context, inv inventory.Inventory) error {
	const stmt = `
INSERT INTO inventory (id, store_id, product_id, quantity_on_hand, reserved_quantity, version, updated_at)
VALUES ($1, $2, $3, $4, $5, 1, $6)`

	_, err := r.exec(ctx, stmt, inv.ID, inv.StoreID, inv.ProductID, inv.QuantityOnHand, inv.ReservedQuantity, inv.UpdatedAt)
	if err != nil {
		// a concurrent receipt created the row first
		if isUniqueViolation(err) {
			return inventory.ErrConcurrencyConflict
		}
		return fmt.Errorf("create inventory: %w", mapInventoryErr(err))
	}
	return nil
}

func (r *InventoryRepository) Update(ctx context.Context, inv inventory.Inventory) error {
	const stmt = `
UPDATE inventory
SET quantity_on_hand = $3, reserved_quantity = $4, version = version + 1, updated_at = $5
WHERE id = $1 AND version = $2`

	tag, err := r.exec(ctx, stmt, inv.ID, inv.Version, inv.QuantityOnHand, inv.ReservedQuantity, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update inventory: %w", mapInventoryErr(err))
	}
	if tag.RowsAffected() == 0 {
		return inventory.ErrConcurrencyConflict
	}
	return nil
}

func (r *InventoryRepository) AddTransaction(ctx context.Context, t inventory.StockTransaction) error {
	const stmt = `
INSERT INTO stock_transactions (id, inventory_id, type, delta, reference_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.exec(ctx, stmt, t.ID, t.InventoryID, t.Type, t.Delta, t.ReferenceID, t.CreatedAt)
	if err != nil {
		// the same receipt or stocktake was booked concurrently
		if isUniqueViolation(err) {
			return inventory.ErrConcurrencyConflict
		}
		return fmt.Errorf("add stock transaction: %w", mapInventoryErr(err))
	}
	return nil
}

func (r *InventoryRepository) HasTransaction(ctx context.Context, inventoryID string, typ inventory.TxType, referenceID string) (bool, error) {
	const query = `
SELECT EXISTS (SELECT 1 FROM stock_transactions WHERE inventory_id = $1 AND type = $2 AND reference_id = $3)`

	var ok bool
	if err := r.queryRow(ctx, query, inventoryID, typ, referenceID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check stock transaction: %w", err)
	}
	return ok, nil
}

func (r *InventoryRepository) GetReservation(ctx context.Context, orderID string) (*inventory.Reservation, error) {
	const query = `
SELECT order_id, store_id, status, reason, COALESCE(unavailable, '[]'::jsonb), created_at, updated_at
FROM reservations
WHERE order_id = $1
FOR UPDATE`

	var (
		res    inventory.Reservation
		status string
	)
	err := r.queryRow(ctx, query, orderID).Scan(
		&res.OrderID, &res.StoreID, &status, &res.Reason, &res.Unavailable, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get reservation: %w", mapInventoryErr(err))
	}
	res.Status = inventory.ReservationStatus(status)

	rows, err := r.query(ctx,
		`SELECT inventory_id, product_id, quantity FROM reservation_items WHERE order_id = $1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("get reservation items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it inventory.ReservedItem
		if err := rows.Scan(&it.InventoryID, &it.ProductID, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scan reservation item: %w", err)
		}
		res.Items = append(res.Items, it)
	}
	return &res, rows.Err()
}

// SaveReservation inserts the first row for an order and only updates its status afterwards.
// The rejection reason and the unavailable lines are written once, with the row.
// Two deliveries racing to insert the same order end in ErrConcurrencyConflict for the loser.
func (r *InventoryRepository) SaveReservation(ctx context.Context, res inventory.Reservation) error {
	tag, err := r.exec(ctx, `UPDATE reservations SET status = $2, updated_at = $3 WHERE order_id = $1`,
		res.OrderID, res.Status, res.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update reservation: %w", mapInventoryErr(err))
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	_, err = r.exec(ctx,
		`INSERT INTO reservations (order_id, store_id, status, reason, unavailable, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		res.OrderID, res.StoreID, res.Status, res.Reason, res.Unavailable, res.CreatedAt, res.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return inventory.ErrConcurrencyConflict
		}
		return fmt.Errorf("insert reservation: %w", mapInventoryErr(err))
	}
	for _, it := range res.Items {
		_, err := r.exec(ctx,
			`INSERT INTO reservation_items (order_id, inventory_id, product_id, quantity) VALUES ($1, $2, $3, $4)`,
			res.OrderID, it.InventoryID, it.ProductID, it.Quantity)
		if err != nil {
			return fmt.Errorf("insert reservation item: %w", mapInventoryErr(err))
		}
	}
	return nil
}

func mapInventoryErr(err error) error {
	switch {
	case isSerializationFailure(err):
		return fmt.Errorf("%w: %v", inventory.ErrConcurrencyConflict, err)
	case isCheckViolation(err):
		return fmt.Errorf("%w: %v", inventory.ErrInvariantViolation, err)
	}
	return err
}
