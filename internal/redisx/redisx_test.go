package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/orders"
)

func TestDedup(t *testing.T) {
	db, mock := redismock.NewClientMock()
	d := NewDedup(db)
	ctx := context.Background()

	mock.ExpectExists("dedup:order.stock-reserved:evt-1").SetVal(0)
	mock.ExpectSet("dedup:order.stock-reserved:evt-1", "1", TTLDedup).SetVal("OK")
	mock.ExpectExists("dedup:order.stock-reserved:evt-1").SetVal(1)

	seen, err := d.Seen(ctx, "order.stock-reserved", "evt-1")
	if err != nil || seen {
		t.Fatalf("expected unseen, got %v %v", seen, err)
	}
	if err := d.Mark(ctx, "order.stock-reserved", "evt-1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	seen, err = d.Seen(ctx, "order.stock-reserved", "evt-1")
	if err != nil || !seen {
		t.Fatalf("expected seen, got %v %v", seen, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDedupSurfacesErrors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	d := NewDedup(db)

	mock.ExpectExists("dedup:c:id").SetErr(errors.New("connection refused"))
	if _, err := d.Seen(context.Background(), "c", "id"); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestOrderCache(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewOrderCache(db)
	ctx := context.Background()

	o := orders.Order{
		ID:        "o-1",
		Status:    orders.StatusPendingPayment,
		Currency:  "USD",
		Total:     decimal.RequireFromString("27.00"),
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	b, _ := json.Marshal(o)

	mock.ExpectGet("order:o-1").RedisNil()
	mock.ExpectSet("order:o-1", b, TTLOrderCache).SetVal("OK")
	mock.ExpectGet("order:o-1").SetVal(string(b))

	if _, ok, err := c.Get(ctx, "o-1"); ok || err != nil {
		t.Fatalf("expected miss, got %v %v", ok, err)
	}
	if err := c.Set(ctx, o); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, "o-1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got %v %v", ok, err)
	}
	if got.Status != orders.StatusPendingPayment || !got.Total.Equal(o.Total) {
		t.Fatalf("unexpected order %+v", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestOrderCacheCorruptEntry(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectGet("order:o-1").SetVal("{not json")
	if _, _, err := NewOrderCache(db).Get(context.Background(), "o-1"); err == nil {
		t.Fatal("expected decode error")
	}
}
