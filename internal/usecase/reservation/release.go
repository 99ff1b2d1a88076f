package reservation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/railzwaylabs/stockflow/internal/domain/inventory"
	"github.com/railzwaylabs/stockflow/internal/domain/outbox"
	"github.com/railzwaylabs/stockflow/internal/domain/store"
)

// ReleaseReservation returns the order's held stock to the available bucket.
// A confirmed reservation can no longer be released.
func (e *Engine) ReleaseReservation(ctx context.Context, orderID uuid.UUID) ([]*inventory.Reservation, error) {
	if orderID == uuid.Nil {
		return nil, fmt.Errorf("%w: order id is required", inventory.ErrInvalidRequest)
	}

	var result []*inventory.Reservation
	err := e.tx.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		reservations, err := lockOrder(ctx, repos, orderID)
		if err != nil {
			return err
		}
		if inventory.AllInStatus(reservations, inventory.ReservationReleased, inventory.ReservationExpired) {
			result = reservations
			return nil
		}

		for _, res := range reservations {
			if err := res.CheckReleasable(); err != nil {
				return err
			}
		}

		now := e.now()
		for _, res := range reservations {
			if res.Status != inventory.ReservationPending {
				continue
			}
			rec, err := lockRecord(ctx, repos, res.ProductID)
			if err != nil {
				return err
			}

			previous := rec.QuantityAvailable
			if err := rec.Unreserve(res.Quantity, now); err != nil {
				return err
			}
			if err := repos.Inventory.Save(ctx, rec); err != nil {
				return fmt.Errorf("save inventory %s: %w", rec.ProductID, err)
			}

			if err := res.Release(now); err != nil {
				return err
			}
			if err := repos.Reservations.Save(ctx, res); err != nil {
				return fmt.Errorf("save reservation %d: %w", res.ID, err)
			}

			if err := e.appendMovement(ctx, repos, inventory.Movement{
				InventoryID:      rec.ID,
				Type:             inventory.MovementRelease,
				Quantity:         res.Quantity,
				PreviousQuantity: previous,
				NewQuantity:      rec.QuantityAvailable,
				ReferenceID:      orderID.String(),
				ReferenceType:    inventory.ReferenceTypeOrder,
				Reason:           "Reservation released",
			}); err != nil {
				return err
			}
		}

		if err := e.enqueue(ctx, repos, outbox.AggregateOrder, orderID.String(), outbox.EventReservationReleased, orderEventPayload{
			OrderID:      orderID,
			Reservations: reservations,
			OccurredAt:   now,
		}); err != nil {
			return err
		}

		result = reservations
		return nil
	})
	if err != nil {
		e.logger.Warn("release_reservation_failed", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, err
	}

	e.logger.Info("reservation_released", zap.String("order_id", orderID.String()), zap.Int("items", len(result)))
	return result, nil
}
