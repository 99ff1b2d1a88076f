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

// ConfirmReservation turns the order's held stock into a permanent deduction.
// Either every pending reservation of the order is confirmed or none is.
func (e *Engine) ConfirmReservation(ctx context.Context, orderID uuid.UUID) ([]*inventory.Reservation, error) {
	if orderID == uuid.Nil {
		return nil, fmt.Errorf("%w: order id is required", inventory.ErrInvalidRequest)
	}

	var result []*inventory.Reservation
	err := e.tx.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		reservations, err := lockOrder(ctx, repos, orderID)
		if err != nil {
			return err
		}
		if inventory.AllInStatus(reservations, inventory.ReservationConfirmed) {
			result = reservations
			return nil
		}

		now := e.now()
		for _, res := range reservations {
			if err := res.CheckConfirmable(now); err != nil {
				return err
			}
		}

		for _, res := range reservations {
			if res.Status != inventory.ReservationPending {
				continue
			}
			rec, err := lockRecord(ctx, repos, res.ProductID)
			if err != nil {
				return err
			}

			previous := rec.QuantityReserved
			if err := rec.CommitReserved(res.Quantity, now); err != nil {
				return err
			}
			if err := repos.Inventory.Save(ctx, rec); err != nil {
				return fmt.Errorf("save inventory %s: %w", rec.ProductID, err)
			}

			if err := res.Confirm(now); err != nil {
				return err
			}
			if err := repos.Reservations.Save(ctx, res); err != nil {
				return fmt.Errorf("save reservation %d: %w", res.ID, err)
			}

			if err := e.appendMovement(ctx, repos, inventory.Movement{
				InventoryID:      rec.ID,
				Type:             inventory.MovementReservationConfirmed,
				Quantity:         res.Quantity,
				PreviousQuantity: previous,
				NewQuantity:      rec.QuantityReserved,
				ReferenceID:      orderID.String(),
				ReferenceType:    inventory.ReferenceTypeOrder,
				Reason:           "Order confirmed",
			}); err != nil {
				return err
			}
		}

		if err := e.enqueue(ctx, repos, outbox.AggregateOrder, orderID.String(), outbox.EventReservationConfirmed, orderEventPayload{
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
		e.logger.Warn("confirm_reservation_failed", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, err
	}

	e.logger.Info("reservation_confirmed", zap.String("order_id", orderID.String()), zap.Int("items", len(result)))
	return result, nil
}

// lockOrder loads the order's reservations under lock, sorted by product id.
func lockOrder(ctx context.Context, repos store.Repositories, orderID uuid.UUID) ([]*inventory.Reservation, error) {
	reservations, err := repos.Reservations.LockByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("lock reservations: %w", err)
	}
	if len(reservations) == 0 {
		return nil, fmt.Errorf("%w: order %s", inventory.ErrReservationNotFound, orderID)
	}
	sortByProduct(reservations, func(i int) uuid.UUID { return reservations[i].ProductID })
	return reservations, nil
}
