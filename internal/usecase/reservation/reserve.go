package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/railzwaylabs/stockflow/internal/domain/inventory"
	"github.com/railzwaylabs/stockflow/internal/domain/outbox"
	"github.com/railzwaylabs/stockflow/internal/domain/store"
)

// ReserveStock holds stock for every item of the order. Calling it again for an
// order that already has reservations returns those reservations unchanged.
func (e *Engine) ReserveStock(ctx context.Context, orderID uuid.UUID, items []inventory.Item) ([]*inventory.Reservation, error) {
	if orderID == uuid.Nil {
		return nil, fmt.Errorf("%w: order id is required", inventory.ErrInvalidRequest)
	}
	lines, err := normalizeItems(items)
	if err != nil {
		return nil, err
	}

	var (
		result []*inventory.Reservation
		reused bool
	)
	err = e.tx.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		// A retried call waits here for the first one to commit and then reuses its rows.
		if err := repos.Reservations.LockOrder(ctx, orderID); err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		existing, err := repos.Reservations.FindByOrderID(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load reservations: %w", err)
		}
		if len(existing) > 0 {
			result, reused = existing, true
			return nil
		}

		if err := checkAvailability(ctx, repos, lines); err != nil {
			return err
		}

		reservations, err := e.reserveLocked(ctx, repos, orderID, lines)
		if err != nil {
			return err
		}

		if err := e.enqueue(ctx, repos, outbox.AggregateOrder, orderID.String(), outbox.EventStockReserved, orderEventPayload{
			OrderID:      orderID,
			Reservations: reservations,
			OccurredAt:   e.now(),
		}); err != nil {
			return err
		}

		result = reservations
		return nil
	})
	if errors.Is(err, inventory.ErrDuplicateReservation) || errors.Is(err, inventory.ErrInsufficientStock) {
		// The order may have been reserved by a concurrent call that committed first.
		existing, ferr := e.tx.Repositories().Reservations.FindByOrderID(ctx, orderID)
		if ferr == nil && len(existing) > 0 {
			e.logger.Info("reservation_reused_after_conflict", zap.String("order_id", orderID.String()))
			return existing, nil
		}
	}
	if err != nil {
		e.logger.Warn("reserve_stock_failed", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, err
	}

	if reused {
		e.logger.Info("reservation_already_exists", zap.String("order_id", orderID.String()), zap.Int("items", len(result)))
	} else {
		e.logger.Info("stock_reserved", zap.String("order_id", orderID.String()), zap.Int("items", len(result)))
	}
	return result, nil
}

// checkAvailability is the unlocked fail-fast pass. It never mutates state.
func checkAvailability(ctx context.Context, repos store.Repositories, lines []inventory.Item) error {
	for _, line := range lines {
		rec, err := repos.Inventory.FindByProductID(ctx, line.ProductID)
		if err != nil {
			return fmt.Errorf("load inventory %s: %w", line.ProductID, err)
		}
		if rec == nil {
			return fmt.Errorf("%w: product %s", inventory.ErrInventoryNotFound, line.ProductID)
		}
		if rec.QuantityAvailable < line.Quantity {
			return fmt.Errorf("%w: product %s available %d requested %d",
				inventory.ErrInsufficientStock, line.ProductID, rec.QuantityAvailable, line.Quantity)
		}
	}
	return nil
}

// reserveLocked re-verifies and mutates each line under its row lock, in product order.
func (e *Engine) reserveLocked(ctx context.Context, repos store.Repositories, orderID uuid.UUID, lines []inventory.Item) ([]*inventory.Reservation, error) {
	now := e.now()
	expiresAt := now.Add(e.ttl)
	reservations := make([]*inventory.Reservation, 0, len(lines))

	for _, line := range lines {
		rec, err := lockRecord(ctx, repos, line.ProductID)
		if err != nil {
			return nil, err
		}

		previous := rec.QuantityAvailable
		if err := rec.Reserve(line.Quantity, now); err != nil {
			return nil, err
		}
		if err := repos.Inventory.Save(ctx, rec); err != nil {
			return nil, fmt.Errorf("save inventory %s: %w", rec.ProductID, err)
		}

		res := inventory.NewReservation(e.ids.GenerateID(), orderID, line.ProductID, line.Quantity, now, expiresAt)
		if err := repos.Reservations.Create(ctx, res); err != nil {
			return nil, fmt.Errorf("create reservation: %w", err)
		}

		if err := e.appendMovement(ctx, repos, inventory.Movement{
			InventoryID:      rec.ID,
			Type:             inventory.MovementReservation,
			Quantity:         line.Quantity,
			PreviousQuantity: previous,
			NewQuantity:      rec.QuantityAvailable,
			ReferenceID:      orderID.String(),
			ReferenceType:    inventory.ReferenceTypeOrder,
			Reason:           "Stock reserved for order",
		}); err != nil {
			return nil, err
		}

		if err := e.enqueueLowStock(ctx, repos, rec); err != nil {
			return nil, err
		}

		reservations = append(reservations, res)
	}
	return reservations, nil
}
