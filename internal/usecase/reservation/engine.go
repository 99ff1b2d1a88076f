package reservation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/railzwaylabs/stockflow/internal/config"
	"github.com/railzwaylabs/stockflow/internal/domain/inventory"
	"github.com/railzwaylabs/stockflow/internal/domain/outbox"
	"github.com/railzwaylabs/stockflow/internal/domain/store"
	"github.com/railzwaylabs/stockflow/pkg/snowflake"
	"github.com/railzwaylabs/stockflow/pkg/telemetry/correlation"
)

const defaultReservationTTL = 15 * time.Minute

// Engine owns every mutation of the inventory ledger. Each call runs as one
// local transaction covering ledger rows, reservations, movements and outbox events.
type Engine struct {
	tx     store.Transactor
	ids    snowflake.Generator
	logger *zap.Logger
	ttl    time.Duration

	now    func() time.Time
	encode func(v any) ([]byte, error)
}

func NewEngine(tx store.Transactor, ids snowflake.Generator, cfg *config.Config, logger *zap.Logger) *Engine {
	ttl := defaultReservationTTL
	if cfg != nil && cfg.ReservationTTL > 0 {
		ttl = cfg.ReservationTTL
	}
	return &Engine{
		tx:     tx,
		ids:    ids,
		logger: logger.Named("reservation.engine"),
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		encode: json.Marshal,
	}
}

// normalizeItems validates the request and merges repeated products.
// The result is sorted by product id, which is also the lock order.
func normalizeItems(items []inventory.Item) ([]inventory.Item, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", inventory.ErrInvalidRequest)
	}
	merged := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		if item.ProductID == uuid.Nil {
			return nil, fmt.Errorf("%w: product id is required", inventory.ErrInvalidRequest)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity for product %s must be >= 1", inventory.ErrInvalidRequest, item.ProductID)
		}
		merged[item.ProductID] += item.Quantity
	}

	out := make([]inventory.Item, 0, len(merged))
	for productID, qty := range merged {
		out = append(out, inventory.Item{ProductID: productID, Quantity: qty})
	}
	sortByProduct(out, func(i int) uuid.UUID { return out[i].ProductID })
	return out, nil
}

func sortByProduct[T any](s []T, key func(i int) uuid.UUID) {
	sort.SliceStable(s, func(i, j int) bool {
		a, b := key(i), key(j)
		return bytes.Compare(a[:], b[:]) < 0
	})
}

func (e *Engine) enqueue(ctx context.Context, repos store.Repositories, aggregateType, aggregateID string, eventType outbox.EventType, payload any) error {
	raw, err := e.encode(payload)
	if err != nil {
		return fmt.Errorf("%w: %s for %s %s: %v", inventory.ErrSerialization, eventType, aggregateType, aggregateID, err)
	}

	event := outbox.NewEvent(e.ids.GenerateID(), aggregateType, aggregateID, eventType, raw, e.now())
	if cid := correlation.ExtractCorrelationID(ctx); cid != "" {
		event.Headers[outbox.HeaderCorrelationID] = cid
	}
	if err := repos.Outbox.Enqueue(ctx, event); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}

func (e *Engine) enqueueLowStock(ctx context.Context, repos store.Repositories, rec *inventory.Record) error {
	if !rec.IsLowStock() {
		return nil
	}
	e.logger.Warn("low_stock_detected",
		zap.String("product_id", rec.ProductID.String()),
		zap.String("sku", rec.SKU),
		zap.Int("quantity_available", rec.QuantityAvailable),
		zap.Int("reorder_level", rec.ReorderLevel),
	)
	return e.enqueue(ctx, repos, outbox.AggregateInventory, rec.ProductID.String(), outbox.EventLowStockAlert, lowStockPayload{
		ProductID:         rec.ProductID,
		SKU:               rec.SKU,
		ProductName:       rec.ProductName,
		QuantityAvailable: rec.QuantityAvailable,
		ReorderLevel:      rec.ReorderLevel,
		ReorderQuantity:   rec.ReorderQuantity,
		WarehouseLocation: rec.WarehouseLocation,
	})
}

func (e *Engine) appendMovement(ctx context.Context, repos store.Repositories, m inventory.Movement) error {
	m.ID = e.ids.GenerateID()
	if m.CreatedBy == "" {
		m.CreatedBy = inventory.ActorSystem
	}
	m.CreatedAt = e.now()
	if err := repos.Movements.Append(ctx, &m); err != nil {
		return fmt.Errorf("append %s movement: %w", m.Type, err)
	}
	return nil
}

// lockRecord locks the ledger row and maps a missing row to ErrInventoryNotFound.
func lockRecord(ctx context.Context, repos store.Repositories, productID uuid.UUID) (*inventory.Record, error) {
	rec, err := repos.Inventory.LockByProductID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("lock inventory %s: %w", productID, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: product %s", inventory.ErrInventoryNotFound, productID)
	}
	return rec, nil
}
