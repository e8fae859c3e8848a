package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/events"
)

type Order struct {
	ID           string          `json:"id"`
	ExternalID   string          `json:"external_id,omitempty"`
	StoreID      string          `json:"store_id"`
	UserID       string          `json:"user_id"`
	Status       Status          `json:"status"`
	Currency     string          `json:"currency"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Tax          decimal.Decimal `json:"tax"`
	ShippingFee  decimal.Decimal `json:"shipping_fee"`
	Total        decimal.Decimal `json:"total"`
	Items        []Item          `json:"items"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CancelledAt  *time.Time      `json:"cancelled_at,omitempty"`
}

// Item lines are fixed once the order exists.
type Item struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (o Order) EventItems() []events.Item {
	out := make([]events.Item, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, events.Item{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return out
}

// Pricing turns item lines into order totals.
type Pricing struct {
	TaxRate     decimal.Decimal
	ShippingFee decimal.Decimal
	Currency    string
}

// apply fills the money fields; Total == Subtotal + Tax + ShippingFee always holds.
func (p Pricing) apply(o *Order) {
	sub := decimal.Zero
	for _, it := range o.Items {
		sub = sub.Add(it.LineTotal())
	}
	o.Subtotal = sub.Round(2)
	o.Tax = sub.Mul(p.TaxRate).Round(2)
	o.ShippingFee = p.ShippingFee.Round(2)
	o.Total = o.Subtotal.Add(o.Tax).Add(o.ShippingFee)
	o.Currency = p.Currency
}
