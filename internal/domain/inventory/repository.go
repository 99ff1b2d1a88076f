package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists inventory records.
// Finders return (nil, nil) when no row matches.
type Repository interface {
	FindByProductID(ctx context.Context, productID uuid.UUID) (*Record, error)
	FindBySKU(ctx context.Context, sku string) (*Record, error)
	// LockByProductID reads the row under an exclusive lock held until the
	// surrounding transaction ends.
	LockByProductID(ctx context.Context, productID uuid.UUID) (*Record, error)
	List(ctx context.Context, offset, limit int) ([]*Record, int64, error)
	ListLowStock(ctx context.Context) ([]*Record, error)
	Create(ctx context.Context, record *Record) error
	Save(ctx context.Context, record *Record) error
	SoftDelete(ctx context.Context, id int64, at time.Time) error
}

type MovementRepository interface {
	Append(ctx context.Context, movement *Movement) error
	ListByInventoryID(ctx context.Context, inventoryID int64, limit int) ([]*Movement, error)
}

type ReservationRepository interface {
	// LockOrder serializes reserve calls for one order until the surrounding
	// transaction ends, even before any reservation row exists.
	LockOrder(ctx context.Context, orderID uuid.UUID) error
	FindByOrderID(ctx context.Context, orderID uuid.UUID) ([]*Reservation, error)
	// LockByOrderID returns the order's reservations locked for update, ordered by product id.
	LockByOrderID(ctx context.Context, orderID uuid.UUID) ([]*Reservation, error)
	ExistsPendingForProduct(ctx context.Context, productID uuid.UUID) (bool, error)
	// ListExpiredPending returns PENDING reservations whose deadline is before the given time
	// and whose id is greater than afterID, in id order.
	ListExpiredPending(ctx context.Context, before time.Time, afterID int64, limit int) ([]*Reservation, error)
	Create(ctx context.Context, reservation *Reservation) error
	Save(ctx context.Context, reservation *Reservation) error
}
