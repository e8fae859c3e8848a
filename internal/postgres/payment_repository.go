package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/payment"
)

type PaymentRepository struct {
	querier
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{querier{pool: pool}}
}

const paymentColumns = `id, order_id, user_id, store_id, amount_cents, currency, COALESCE(intent_id, ''),
client_secret, status, failure_message, superseded, created_at, updated_at`

func (r *PaymentRepository) GetActive(ctx context.Context, orderID string) (*payment.Payment, error) {
	p, err := r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 AND NOT superseded FOR UPDATE`, orderID)
	if errors.Is(err, payment.ErrPaymentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetByIntent(ctx context.Context, intentID string) (payment.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE intent_id = $1 FOR UPDATE`, intentID)
}

func (r *PaymentRepository) get(ctx context.Context, query, arg string) (payment.Payment, error) {
	var (
		p      payment.Payment
		cents  int64
		status string
	)
	err := r.queryRow(ctx, query, arg).Scan(&p.ID, &p.OrderID, &p.UserID, &p.StoreID, &cents, &p.Currency, &p.IntentID,
		&p.ClientSecret, &status, &p.FailureMessage, &p.Superseded, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payment.Payment{}, payment.ErrPaymentNotFound
		}
		return payment.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	p.Amount = fromCents(cents)
	p.Status = payment.Status(status)
	return p, nil
}

func (r *PaymentRepository) Create(ctx context.Context, p payment.Payment) error {
	const stmt = `
INSERT INTO payments (id, order_id, user_id, store_id, amount_cents, currency, intent_id,
	client_secret, status, failure_message, superseded, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $12, $13)`

	_, err := r.exec(ctx, stmt, p.ID, p.OrderID, p.UserID, p.StoreID, toCents(p.Amount), p.Currency, p.IntentID,
		p.ClientSecret, p.Status, p.FailureMessage, p.Superseded, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return payment.ErrDuplicatePayment
		}
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) Update(ctx context.Context, p payment.Payment) error {
	const stmt = `
UPDATE payments
SET intent_id = NULLIF($2, ''), client_secret = $3, status = $4, failure_message = $5, superseded = $6, updated_at = $7
WHERE id = $1`

	tag, err := r.exec(ctx, stmt, p.ID, p.IntentID, p.ClientSecret, p.Status, p.FailureMessage, p.Superseded, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrPaymentNotFound
	}
	return nil
}
