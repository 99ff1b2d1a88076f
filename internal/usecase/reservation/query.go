package reservation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/railzwaylabs/stockflow/internal/domain/inventory"
)

const (
	defaultPageSize     = 20
	maxPageSize         = 100
	defaultMovementPage = 50
)

type Page struct {
	Items []*inventory.Record `json:"items"`
	Total int64               `json:"total"`
	Page  int                 `json:"page"`
	Size  int                 `json:"size"`
}

// CheckStock reports whether quantity is currently available. It takes no lock.
func (e *Engine) CheckStock(ctx context.Context, productID uuid.UUID, quantity int) (*inventory.StockCheck, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be >= 1", inventory.ErrInvalidRequest)
	}
	rec, err := e.tx.Repositories().Inventory.FindByProductID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: product %s", inventory.ErrInventoryNotFound, productID)
	}
	return stockCheck(rec, productID, quantity), nil
}

// CheckStockBatch checks every item; unknown products are reported unavailable.
func (e *Engine) CheckStockBatch(ctx context.Context, items []inventory.Item) ([]*inventory.StockCheck, error) {
	repo := e.tx.Repositories().Inventory
	out := make([]*inventory.StockCheck, 0, len(items))
	for _, item := range items {
		rec, err := repo.FindByProductID(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		out = append(out, stockCheck(rec, item.ProductID, item.Quantity))
	}
	return out, nil
}

func stockCheck(rec *inventory.Record, productID uuid.UUID, quantity int) *inventory.StockCheck {
	check := &inventory.StockCheck{ProductID: productID, QuantityRequested: quantity}
	if rec == nil {
		return check
	}
	check.QuantityAvailable = rec.QuantityAvailable
	check.QuantityReserved = rec.QuantityReserved
	check.Available = quantity > 0 && rec.QuantityAvailable >= quantity
	return check
}

func (e *Engine) GetReservations(ctx context.Context, orderID uuid.UUID) ([]*inventory.Reservation, error) {
	reservations, err := e.tx.Repositories().Reservations.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(reservations) == 0 {
		return nil, fmt.Errorf("%w: order %s", inventory.ErrReservationNotFound, orderID)
	}
	return reservations, nil
}

func (e *Engine) GetByProductID(ctx context.Context, productID uuid.UUID) (*inventory.Record, error) {
	rec, err := e.tx.Repositories().Inventory.FindByProductID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: product %s", inventory.ErrInventoryNotFound, productID)
	}
	return rec, nil
}

func (e *Engine) GetBySKU(ctx context.Context, sku string) (*inventory.Record, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil, fmt.Errorf("%w: sku is required", inventory.ErrInvalidRequest)
	}
	rec, err := e.tx.Repositories().Inventory.FindBySKU(ctx, sku)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: sku %s", inventory.ErrInventoryNotFound, sku)
	}
	return rec, nil
}

// ListInventory pages through records, newest first. Page numbers start at 0.
func (e *Engine) ListInventory(ctx context.Context, page, size int) (*Page, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	items, total, err := e.tx.Repositories().Inventory.List(ctx, page*size, size)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Page: page, Size: size}, nil
}

func (e *Engine) ListLowStock(ctx context.Context) ([]*inventory.Record, error) {
	return e.tx.Repositories().Inventory.ListLowStock(ctx)
}

// ListMovements returns the most recent ledger movements of a product.
func (e *Engine) ListMovements(ctx context.Context, productID uuid.UUID, limit int) ([]*inventory.Movement, error) {
	rec, err := e.GetByProductID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultMovementPage
	}
	return e.tx.Repositories().Movements.ListByInventoryID(ctx, rec.ID, limit)
}
