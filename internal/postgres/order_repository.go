package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/orders"
)

type OrderRepository struct {
	querier
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{querier{pool: pool}}
}

const orderColumns = `id, COALESCE(external_id, ''), store_id, user_id, status, currency,
subtotal_cents, tax_cents, shipping_fee_cents, total_cents, cancel_reason,
created_at, updated_at, completed_at, cancelled_at`

func (r *OrderRepository) Create(ctx context.Context, o orders.Order) error {
	return r.WithTx(ctx, func(ctx context.Context) error {
		const stmt = `
INSERT INTO orders (id, external_id, store_id, user_id, status, currency,
	subtotal_cents, tax_cents, shipping_fee_cents, total_cents, created_at, updated_at)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

		_, err := r.exec(ctx, stmt, o.ID, o.ExternalID, o.StoreID, o.UserID, o.Status, o.Currency,
			toCents(o.Subtotal), toCents(o.Tax), toCents(o.ShippingFee), toCents(o.Total), o.CreatedAt, o.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return orders.ErrDuplicateExternalID
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for i, it := range o.Items {
			_, err := r.exec(ctx,
				`INSERT INTO order_items (order_id, line, product_id, quantity, unit_price_cents) VALUES ($1, $2, $3, $4, $5)`,
				o.ID, i, it.ProductID, it.Quantity, toCents(it.UnitPrice))
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return nil
	})
}

func (r *OrderRepository) Get(ctx context.Context, id string) (orders.Order, error) {
	return r.load(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (orders.Order, error) {
	return r.load(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *OrderRepository) FindByExternalID(ctx context.Context, externalID string) (*orders.Order, error) {
	o, err := r.load(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_id = $1`, externalID)
	if errors.Is(err, orders.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, o orders.Order) error {
	const stmt = `
UPDATE orders
SET status = $2, cancel_reason = $3, updated_at = $4, completed_at = $5, cancelled_at = $6
WHERE id = $1`

	tag, err := r.exec(ctx, stmt, o.ID, o.Status, o.CancelReason, o.UpdatedAt, o.CompletedAt, o.CancelledAt)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orders.ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepository) load(ctx context.Context, query string, arg string) (orders.Order, error) {
	var (
		o                         orders.Order
		status                    string
		sub, tax, shipping, total int64
		completedAt, cancelledAt  *time.Time
	)
	err := r.queryRow(ctx, query, arg).Scan(&o.ID, &o.ExternalID, &o.StoreID, &o.UserID, &status, &o.Currency,
		&sub, &tax, &shipping, &total, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt, &completedAt, &cancelledAt)
	if err != nil {
		if isInvalidUUID(err) {
			return orders.Order{}, orders.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.Order{}, orders.ErrOrderNotFound
		}
		return orders.Order{}, fmt.Errorf("get order: %w", err)
	}
	o.Status = orders.Status(status)
	o.Subtotal, o.Tax, o.ShippingFee, o.Total = fromCents(sub), fromCents(tax), fromCents(shipping), fromCents(total)
	o.CompletedAt, o.CancelledAt = completedAt, cancelledAt

	rows, err := r.query(ctx,
		`SELECT product_id, quantity, unit_price_cents FROM order_items WHERE order_id = $1 ORDER BY line`, o.ID)
	if err != nil {
		return orders.Order{}, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it    orders.Item
			price int64
		)
		if err := rows.Scan(&it.ProductID, &it.Quantity, &price); err != nil {
			return orders.Order{}, fmt.Errorf("scan order item: %w", err)
		}
		it.UnitPrice = fromCents(price)
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}
