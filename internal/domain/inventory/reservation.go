package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReservationStatus represents the lifecycle state of a stock reservation.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// IsTerminal reports whether no further transition is allowed.
func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationConfirmed || s == ReservationReleased || s == ReservationExpired
}

// IsReleased reports whether the stock went back to available.
func (s ReservationStatus) IsReleased() bool {
	return s == ReservationReleased || s == ReservationExpired
}

// Reservation is a temporary hold of stock for one (order, product) pair.
type Reservation struct {
	ID          int64             `json:"reservation_id,string"`
	OrderID     uuid.UUID         `json:"order_id"`
	ProductID   uuid.UUID         `json:"product_id"`
	Quantity    int               `json:"quantity_reserved"`
	Status      ReservationStatus `json:"status"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ConfirmedAt *time.Time        `json:"confirmed_at,omitempty"`
	ReleasedAt  *time.Time        `json:"released_at,omitempty"`
	Version     int64             `json:"version"`
}

// NewReservation creates a reservation in PENDING state.
func NewReservation(id int64, orderID, productID uuid.UUID, quantity int, now, expiresAt time.Time) *Reservation {
	return &Reservation{
		ID:        id,
		OrderID:   orderID,
		ProductID: productID,
		Quantity:  quantity,
		Status:    ReservationPending,
		ExpiresAt: &expiresAt,
		CreatedAt: now,
	}
}

// IsExpired reports whether a pending reservation passed its deadline.
func (r *Reservation) IsExpired(now time.Time) bool {
	return r.Status == ReservationPending && r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// CheckConfirmable validates the reservation may take part in a confirmation.
// Already confirmed reservations pass so a partially confirmed order can finish.
func (r *Reservation) CheckConfirmable(now time.Time) error {
	switch {
	case r.Status.IsReleased():
		return fmt.Errorf("%w: reservation %d for order %s is %s", ErrInvalidReservationState, r.ID, r.OrderID, r.Status)
	case r.IsExpired(now):
		return fmt.Errorf("%w: reservation %d for order %s expired at %s", ErrInvalidReservationState, r.ID, r.OrderID, r.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// CheckReleasable validates the reservation may take part in a release.
func (r *Reservation) CheckReleasable() error {
	if r.Status == ReservationConfirmed {
		return fmt.Errorf("%w: reservation %d for order %s is already confirmed", ErrInvalidReservationState, r.ID, r.OrderID)
	}
	return nil
}

// Confirm transitions PENDING to CONFIRMED.
func (r *Reservation) Confirm(now time.Time) error {
	if r.Status != ReservationPending {
		return fmt.Errorf("%w: cannot confirm reservation in %s", ErrInvalidReservationState, r.Status)
	}
	r.Status = ReservationConfirmed
	r.ConfirmedAt = &now
	r.ExpiresAt = nil
	r.Version++
	return nil
}

// Release transitions PENDING to RELEASED.
func (r *Reservation) Release(now time.Time) error {
	if r.Status != ReservationPending {
		return fmt.Errorf("%w: cannot release reservation in %s", ErrInvalidReservationState, r.Status)
	}
	r.Status = ReservationReleased
	r.ReleasedAt = &now
	r.ExpiresAt = nil
	r.Version++
	return nil
}

// AllInStatus reports whether every reservation matches one of the statuses.
func AllInStatus(reservations []*Reservation, statuses ...ReservationStatus) bool {
	if len(reservations) == 0 {
		return false
	}
	for _, r := range reservations {
		matched := false
		for _, s := range statuses {
			if r.Status == s {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
