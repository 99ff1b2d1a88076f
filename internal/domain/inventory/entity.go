package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInventoryNotFound       = errors.New("inventory not found")
	ErrReservationNotFound     = errors.New("reservation not found")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInvalidReservationState = errors.New("invalid reservation state")
	ErrSerialization           = errors.New("event serialization failed")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrDuplicateInventory      = errors.New("inventory already exists")
	ErrDuplicateReservation    = errors.New("reservation already exists")
	ErrInventoryInUse          = errors.New("inventory still holds stock or pending reservations")
)

// Record is the per-product stock ledger row.
// QuantityAvailable + QuantityReserved is the physical stock on hand.
type Record struct {
	ID                int64     `json:"inventory_id,string"`
	ProductID         uuid.UUID `json:"product_id"`
	ProductName       string    `json:"product_name"`
	SKU               string    `json:"sku"`
	QuantityAvailable int       `json:"quantity_available"`
	QuantityReserved  int       `json:"quantity_reserved"`
	ReorderLevel      int       `json:"reorder_level"`
	ReorderQuantity   int       `json:"reorder_quantity"`
	WarehouseLocation string    `json:"warehouse_location,omitempty"`
	// Version is bumped on every mutation. Concurrency is handled by row locks, not by this field.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TotalStock returns the physical quantity held for the product.
func (r *Record) TotalStock() int {
	return r.QuantityAvailable + r.QuantityReserved
}

// IsLowStock reports whether available stock reached the reorder level.
func (r *Record) IsLowStock() bool {
	return r.QuantityAvailable <= r.ReorderLevel
}

// Reserve moves quantity from available to reserved.
func (r *Record) Reserve(quantity int, now time.Time) error {
	if quantity < 1 {
		return fmt.Errorf("%w: quantity must be >= 1", ErrInvalidRequest)
	}
	if r.QuantityAvailable < quantity {
		return fmt.Errorf("%w: product %s available %d requested %d", ErrInsufficientStock, r.ProductID, r.QuantityAvailable, quantity)
	}
	r.QuantityAvailable -= quantity
	r.QuantityReserved += quantity
	r.touch(now)
	return nil
}

// CommitReserved removes confirmed quantity from the reserved bucket for good.
func (r *Record) CommitReserved(quantity int, now time.Time) error {
	if r.QuantityReserved < quantity {
		return fmt.Errorf("%w: product %s reserved %d cannot commit %d", ErrInvalidReservationState, r.ProductID, r.QuantityReserved, quantity)
	}
	r.QuantityReserved -= quantity
	r.touch(now)
	return nil
}

// Unreserve returns reserved quantity to the available bucket.
func (r *Record) Unreserve(quantity int, now time.Time) error {
	if r.QuantityReserved < quantity {
		return fmt.Errorf("%w: product %s reserved %d cannot release %d", ErrInvalidReservationState, r.ProductID, r.QuantityReserved, quantity)
	}
	r.QuantityReserved -= quantity
	r.QuantityAvailable += quantity
	r.touch(now)
	return nil
}

// Restock adds new physical stock.
func (r *Record) Restock(quantity int, now time.Time) error {
	if quantity < 1 {
		return fmt.Errorf("%w: restock quantity must be >= 1", ErrInvalidRequest)
	}
	r.QuantityAvailable += quantity
	r.touch(now)
	return nil
}

// Adjust applies a signed correction to available stock.
func (r *Record) Adjust(delta int, now time.Time) error {
	if delta == 0 {
		return fmt.Errorf("%w: adjustment must be non-zero", ErrInvalidRequest)
	}
	if r.QuantityAvailable+delta < 0 {
		return fmt.Errorf("%w: adjustment %d would make available stock negative", ErrInsufficientStock, delta)
	}
	r.QuantityAvailable += delta
	r.touch(now)
	return nil
}

func (r *Record) touch(now time.Time) {
	r.Version++
	r.UpdatedAt = now
}

// Item is one product line of a reservation request.
type Item struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// StockCheck is the read-only availability view of a product.
type StockCheck struct {
	ProductID         uuid.UUID `json:"product_id"`
	Available         bool      `json:"available"`
	QuantityAvailable int       `json:"quantity_available"`
	QuantityRequested int       `json:"quantity_requested"`
	QuantityReserved  int       `json:"quantity_reserved"`
}
