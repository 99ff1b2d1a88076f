package reservation

import (
	"time"

	"github.com/google/uuid"

	"github.com/railzwaylabs/stockflow/internal/domain/inventory"
)

// Payloads published on the inventory topic. Field names are part of the wire contract.

type orderEventPayload struct {
	OrderID      uuid.UUID                `json:"orderId"`
	Reservations []*inventory.Reservation `json:"reservations"`
	OccurredAt   time.Time                `json:"occurredAt"`
}

type lowStockPayload struct {
	ProductID         uuid.UUID `json:"productId"`
	SKU               string    `json:"sku"`
	ProductName       string    `json:"productName"`
	QuantityAvailable int       `json:"quantityAvailable"`
	ReorderLevel      int       `json:"reorderLevel"`
	ReorderQuantity   int       `json:"reorderQuantity"`
	WarehouseLocation string    `json:"warehouseLocation,omitempty"`
}

type stockChangePayload struct {
	ProductID         uuid.UUID `json:"productId"`
	SKU               string    `json:"sku"`
	Delta             int       `json:"delta"`
	PreviousAvailable int       `json:"previousAvailable"`
	QuantityAvailable int       `json:"quantityAvailable"`
	QuantityReserved  int       `json:"quantityReserved"`
	Reason            string    `json:"reason,omitempty"`
	OccurredAt        time.Time `json:"occurredAt"`
}
