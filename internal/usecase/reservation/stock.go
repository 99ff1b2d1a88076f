package reservation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/railzwaylabs/stockflow/internal/domain/inventory"
	"github.com/railzwaylabs/stockflow/internal/domain/outbox"
	"github.com/railzwaylabs/stockflow/internal/domain/store"
)

type CreateInventoryInput struct {
	ProductID         uuid.UUID `json:"product_id"`
	ProductName       string    `json:"product_name"`
	SKU               string    `json:"sku"`
	InitialQuantity   int       `json:"initial_quantity"`
	ReorderLevel      int       `json:"reorder_level"`
	ReorderQuantity   int       `json:"reorder_quantity"`
	WarehouseLocation string    `json:"warehouse_location"`
	CreatedBy         string    `json:"created_by"`
}

// UpdateInventoryInput carries optional changes; nil fields are left untouched.
type UpdateInventoryInput struct {
	ProductName       *string `json:"product_name"`
	ReorderLevel      *int    `json:"reorder_level"`
	ReorderQuantity   *int    `json:"reorder_quantity"`
	WarehouseLocation *string `json:"warehouse_location"`
}

type StockChangeInput struct {
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
	CreatedBy string `json:"created_by"`
}

func (in CreateInventoryInput) validate() error {
	switch {
	case in.ProductID == uuid.Nil:
		return fmt.Errorf("%w: product id is required", inventory.ErrInvalidRequest)
	case strings.TrimSpace(in.ProductName) == "":
		return fmt.Errorf("%w: product name is required", inventory.ErrInvalidRequest)
	case strings.TrimSpace(in.SKU) == "":
		return fmt.Errorf("%w: sku is required", inventory.ErrInvalidRequest)
	case in.InitialQuantity < 0:
		return fmt.Errorf("%w: initial quantity must be >= 0", inventory.ErrInvalidRequest)
	case in.ReorderLevel < 0 || in.ReorderQuantity < 0:
		return fmt.Errorf("%w: reorder settings must be >= 0", inventory.ErrInvalidRequest)
	}
	return nil
}

// CreateInventory registers a product in the ledger. A non-zero initial quantity
// enters as a restock.
func (e *Engine) CreateInventory(ctx context.Context, in CreateInventoryInput) (*inventory.Record, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := e.now()
	rec := &inventory.Record{
		ID:                e.ids.GenerateID(),
		ProductID:         in.ProductID,
		ProductName:       strings.TrimSpace(in.ProductName),
		SKU:               strings.TrimSpace(in.SKU),
		ReorderLevel:      in.ReorderLevel,
		ReorderQuantity:   in.ReorderQuantity,
		WarehouseLocation: strings.TrimSpace(in.WarehouseLocation),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := e.tx.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		if existing, err := repos.Inventory.FindByProductID(ctx, in.ProductID); err != nil {
			return err
		} else if existing != nil {
			return fmt.Errorf("%w: product %s", inventory.ErrDuplicateInventory, in.ProductID)
		}
		if existing, err := repos.Inventory.FindBySKU(ctx, rec.SKU); err != nil {
			return err
		} else if existing != nil {
			return fmt.Errorf("%w: sku %s", inventory.ErrDuplicateInventory, rec.SKU)
		}

		if err := repos.Inventory.Create(ctx, rec); err != nil {
			return fmt.Errorf("create inventory: %w", err)
		}
		if in.InitialQuantity == 0 {
			return e.enqueueLowStock(ctx, repos, rec)
		}
		return e.restock(ctx, repos, rec, StockChangeInput{
			Quantity:  in.InitialQuantity,
			Reason:    "Initial stock",
			CreatedBy: in.CreatedBy,
		})
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("inventory_created",
		zap.String("product_id", rec.ProductID.String()),
		zap.String("sku", rec.SKU),
		zap.Int("quantity_available", rec.QuantityAvailable),
	)
	return rec, nil
}

func (e *Engine) UpdateInventory(ctx context.Context, productID uuid.UUID, in UpdateInventoryInput) (*inventory.Record, error) {
	var rec *inventory.Record
	err := e.tx.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		var err error
		rec, err = lockRecord(ctx, repos, productID)
		if err != nil {
			return err
		}

		reorderChanged := false
		if in.ProductName != nil {
			name := strings.TrimSpace(*in.ProductName)
			if name == "" {
				return fmt.Errorf("%w: product name cannot be blank", inventory.ErrInvalidRequest)
			}
			rec.ProductName = name
		}
		if in.ReorderLevel != nil {
			if *in.ReorderLevel < 0 {
				return fmt.Errorf("%w: reorder level must be >= 0", inventory.ErrInvalidRequest)
			}
			reorderChanged = *in.ReorderLevel != rec.ReorderLevel
			rec.ReorderLevel = *in.ReorderLevel
		}
		if in.ReorderQuantity != nil {
			if *in.ReorderQuantity < 0 {
				return fmt.Errorf("%w: reorder quantity must be >= 0", inventory.ErrInvalidRequest)
			}
			rec.ReorderQuantity = *in.ReorderQuantity
		}
		if in.WarehouseLocation != nil {
			rec.WarehouseLocation = strings.TrimSpace(*in.WarehouseLocation)
		}
		rec.Version++
		rec.UpdatedAt = e.now()

		if err := repos.Inventory.Save(ctx, rec); err != nil {
			return fmt.Errorf("save inventory %s: %w", productID, err)
		}
		if reorderChanged {
			return e.enqueueLowStock(ctx, repos, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteInventory soft-deletes a product that holds no stock and no pending reservation.
func (e *Engine) DeleteInventory(ctx context.Context, productID uuid.UUID) error {
	err := e.tx.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		rec, err := lockRecord(ctx, repos, productID)
		if err != nil {
			return err
		}
		pending, err := repos.Reservations.ExistsPendingForProduct(ctx, productID)
		if err != nil {
			return err
		}
		if pending || rec.QuantityReserved > 0 || rec.QuantityAvailable > 0 {
			return fmt.Errorf("%w: product %s available %d reserved %d",
				inventory.ErrInventoryInUse, productID, rec.QuantityAvailable, rec.QuantityReserved)
		}
		if err := repos.Inventory.SoftDelete(ctx, rec.ID, e.now()); err != nil {
			return fmt.Errorf("delete inventory %s: %w", productID, err)
		}
		return repos.Outbox.DeleteUnpublishedByAggregate(ctx, outbox.AggregateInventory, productID.String())
	})
	if err != nil {
		return err
	}
	e.logger.Info("inventory_deleted", zap.String("product_id", productID.String()))
	return nil
}

// AddStock records newly received physical stock.
func (e *Engine) AddStock(ctx context.Context, productID uuid.UUID, in StockChangeInput) (*inventory.Record, error) {
	if in.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be >= 1", inventory.ErrInvalidRequest)
	}

	var rec *inventory.Record
	err := e.tx.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		var err error
		rec, err = lockRecord(ctx, repos, productID)
		if err != nil {
			return err
		}
		return e.restock(ctx, repos, rec, in)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("stock_added",
		zap.String("product_id", productID.String()),
		zap.Int("quantity", in.Quantity),
		zap.Int("quantity_available", rec.QuantityAvailable),
	)
	return rec, nil
}

func (e *Engine) restock(ctx context.Context, repos store.Repositories, rec *inventory.Record, in StockChangeInput) error {
	previous := rec.QuantityAvailable
	if err := rec.Restock(in.Quantity, e.now()); err != nil {
		return err
	}
	if err := repos.Inventory.Save(ctx, rec); err != nil {
		return fmt.Errorf("save inventory %s: %w", rec.ProductID, err)
	}
	reason := in.Reason
	if reason == "" {
		reason = "Stock received"
	}
	if err := e.appendMovement(ctx, repos, inventory.Movement{
		InventoryID:      rec.ID,
		Type:             inventory.MovementRestock,
		Quantity:         in.Quantity,
		PreviousQuantity: previous,
		NewQuantity:      rec.QuantityAvailable,
		ReferenceType:    inventory.ReferenceTypeManual,
		Reason:           reason,
		CreatedBy:        in.CreatedBy,
	}); err != nil {
		return err
	}
	if err := e.enqueue(ctx, repos, outbox.AggregateInventory, rec.ProductID.String(), outbox.EventStockRestocked, stockChangePayload{
		ProductID:         rec.ProductID,
		SKU:               rec.SKU,
		Delta:             in.Quantity,
		PreviousAvailable: previous,
		QuantityAvailable: rec.QuantityAvailable,
		QuantityReserved:  rec.QuantityReserved,
		Reason:            reason,
		OccurredAt:        rec.UpdatedAt,
	}); err != nil {
		return err
	}
	return e.enqueueLowStock(ctx, repos, rec)
}

// AdjustStock applies a signed correction, e.g. after a stock count.
// The result may never drop below zero.
func (e *Engine) AdjustStock(ctx context.Context, productID uuid.UUID, in StockChangeInput) (*inventory.Record, error) {
	if in.Quantity == 0 {
		return nil, fmt.Errorf("%w: adjustment must be non-zero", inventory.ErrInvalidRequest)
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, fmt.Errorf("%w: adjustment reason is required", inventory.ErrInvalidRequest)
	}

	var rec *inventory.Record
	err := e.tx.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		var err error
		rec, err = lockRecord(ctx, repos, productID)
		if err != nil {
			return err
		}

		previous := rec.QuantityAvailable
		if err := rec.Adjust(in.Quantity, e.now()); err != nil {
			return err
		}
		if err := repos.Inventory.Save(ctx, rec); err != nil {
			return fmt.Errorf("save inventory %s: %w", productID, err)
		}
		if err := e.appendMovement(ctx, repos, inventory.Movement{
			InventoryID:      rec.ID,
			Type:             inventory.MovementAdjustment,
			Quantity:         in.Quantity,
			PreviousQuantity: previous,
			NewQuantity:      rec.QuantityAvailable,
			ReferenceType:    inventory.ReferenceTypeManual,
			Reason:           in.Reason,
			CreatedBy:        in.CreatedBy,
		}); err != nil {
			return err
		}
		if err := e.enqueue(ctx, repos, outbox.AggregateInventory, productID.String(), outbox.EventStockAdjusted, stockChangePayload{
			ProductID:         rec.ProductID,
			SKU:               rec.SKU,
			Delta:             in.Quantity,
			PreviousAvailable: previous,
			QuantityAvailable: rec.QuantityAvailable,
			QuantityReserved:  rec.QuantityReserved,
			Reason:            in.Reason,
			OccurredAt:        rec.UpdatedAt,
		}); err != nil {
			return err
		}
		return e.enqueueLowStock(ctx, repos, rec)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("stock_adjusted",
		zap.String("product_id", productID.String()),
		zap.Int("delta", in.Quantity),
		zap.Int("quantity_available", rec.QuantityAvailable),
	)
	return rec, nil
}
