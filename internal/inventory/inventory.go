package inventory

import (
	"fmt"
	"time"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/events"
)

// Inventory is the stock of one product in one store.
// 0 <= ReservedQuantity <= QuantityOnHand holds after every mutation.
type Inventory struct {
	ID               string
	StoreID          string
	ProductID        string
	QuantityOnHand   int
	ReservedQuantity int
	Version          int
	UpdatedAt        time.Time
}

func (i Inventory) Available() int { return i.QuantityOnHand - i.ReservedQuantity }

// TryReserve moves amount into ReservedQuantity when that much is available; otherwise it
// leaves the row untouched and reports false.
func (i *Inventory) TryReserve(amount int) bool {
	if amount <= 0 || i.Available() < amount {
		return false
	}
	i.ReservedQuantity += amount
	return true
}

// Release gives back up to amount reserved units and returns how many were released.
func (i *Inventory) Release(amount int) int {
	if amount <= 0 {
		return 0
	}
	if amount > i.ReservedQuantity {
		amount = i.ReservedQuantity
	}
	i.ReservedQuantity -= amount
	return amount
}

// Settle turns reserved units into a sale.
func (i *Inventory) Settle(amount int) error {
	if amount <= 0 {
		return ErrInvalidQuantity
	}
	next := *i
	next.ReservedQuantity -= amount
	next.QuantityOnHand -= amount
	if err := next.check(); err != nil {
		return err
	}
	*i = next
	return nil
}

func (i *Inventory) Receive(amount int) error {
	if amount <= 0 {
		return ErrInvalidQuantity
	}
	i.QuantityOnHand += amount
	return nil
}

// Adjust applies a manual correction to QuantityOnHand.
func (i *Inventory) Adjust(delta int) error {
	if delta == 0 {
		return ErrInvalidQuantity
	}
	next := *i
	next.QuantityOnHand += delta
	if err := next.check(); err != nil {
		return err
	}
	*i = next
	return nil
}

func (i Inventory) check() error {
	if i.ReservedQuantity < 0 || i.ReservedQuantity > i.QuantityOnHand {
		return fmt.Errorf("%w: store=%s product=%s on_hand=%d reserved=%d",
			ErrInvariantViolation, i.StoreID, i.ProductID, i.QuantityOnHand, i.ReservedQuantity)
	}
	return nil
}

type TxType string

const (
	TxRestock     TxType = "RESTOCK"
	TxSale        TxType = "SALE"
	TxAdjustment  TxType = "ADJUSTMENT"
	TxReservation TxType = "RESERVATION"
)

// StockTransaction is the append-only audit trail of every inventory mutation.
type StockTransaction struct {
	ID          string
	InventoryID string
	Type        TxType
	Delta       int
	ReferenceID string
	CreatedAt   time.Time
}

type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "RESERVED"
	ReservationReleased ReservationStatus = "RELEASED"
	ReservationSettled  ReservationStatus = "SETTLED"
	ReservationRejected ReservationStatus = "REJECTED"
)

// Reservation is what the warehouse promised to one order. A RELEASED row with no items is a
// tombstone left by a cancel that arrived before the reserve command. A REJECTED row keeps the
// answer it gave so a redelivered command hears the same one.
type Reservation struct {
	OrderID     string
	StoreID     string
	Status      ReservationStatus
	Items       []ReservedItem
	Reason      string
	Unavailable []events.UnavailableItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ReservedItem struct {
	InventoryID string
	ProductID   string
	Quantity    int
}

// rows rejected before the reason was stored were all stock shortages
func (r Reservation) rejectionReason() string {
	if r.Reason == "" {
		return events.ReasonOutOfStock
	}
	return r.Reason
}
