package postgres

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/railzwaylabs/stockflow/internal/domain/deadletter"
	"github.com/railzwaylabs/stockflow/internal/domain/inventory"
	"github.com/railzwaylabs/stockflow/internal/domain/outbox"
)

// InventoryModel is the database DTO with Gorm tags.
type InventoryModel struct {
	ID                int64     `gorm:"primaryKey"`
	ProductID         uuid.UUID `gorm:"type:uuid;not null"`
	ProductName       string    `gorm:"type:varchar(255);not null"`
	SKU               string    `gorm:"column:sku;type:varchar(100);not null"`
	QuantityAvailable int       `gorm:"not null"`
	QuantityReserved  int       `gorm:"not null"`
	ReorderLevel      int       `gorm:"not null"`
	ReorderQuantity   int       `gorm:"not null"`
	WarehouseLocation string    `gorm:"type:varchar(100)"`
	Version           int64     `gorm:"not null"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         gorm.DeletedAt `gorm:"index"`
}

func (InventoryModel) TableName() string {
	return "inventory"
}

type ReservationModel struct {
	ID          int64     `gorm:"primaryKey"`
	OrderID     uuid.UUID `gorm:"type:uuid;not null"`
	ProductID   uuid.UUID `gorm:"type:uuid;not null"`
	Quantity    int       `gorm:"column:quantity_reserved;not null"`
	Status      string    `gorm:"type:varchar(20);not null"`
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	ConfirmedAt *time.Time
	ReleasedAt  *time.Time
	Version     int64 `gorm:"not null"`
}

func (ReservationModel) TableName() string {
	return "stock_reservation"
}

type MovementModel struct {
	ID               int64  `gorm:"primaryKey"`
	InventoryID      int64  `gorm:"not null"`
	MovementType     string `gorm:"type:varchar(30);not null"`
	Quantity         int    `gorm:"not null"`
	PreviousQuantity int    `gorm:"not null"`
	NewQuantity      int    `gorm:"not null"`
	ReferenceID      string `gorm:"type:varchar(100)"`
	ReferenceType    string `gorm:"type:varchar(50)"`
	Reason           string `gorm:"type:text"`
	CreatedBy        string `gorm:"type:varchar(100)"`
	CreatedAt        time.Time
}

func (MovementModel) TableName() string {
	return "stock_movements"
}

type OutboxModel struct {
	ID            int64                                  `gorm:"primaryKey"`
	AggregateID   string                                 `gorm:"type:varchar(100);not null"`
	AggregateType string                                 `gorm:"type:varchar(50);not null"`
	EventType     string                                 `gorm:"type:varchar(100);not null"`
	Payload       datatypes.JSON                         `gorm:"type:jsonb;not null"`
	Headers       datatypes.JSONType[map[string]string] `gorm:"type:jsonb"`
	Published     bool                                   `gorm:"not null"`
	RetryCount    int                                    `gorm:"not null"`
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

func (OutboxModel) TableName() string {
	return "outbox_events"
}

type DeadLetterModel struct {
	ID              int64          `gorm:"primaryKey"`
	OriginalEventID int64          `gorm:"not null"`
	AggregateID     string         `gorm:"type:varchar(100);not null"`
	AggregateType   string         `gorm:"type:varchar(50);not null"`
	EventType       string         `gorm:"type:varchar(100);not null"`
	Payload         datatypes.JSON `gorm:"type:jsonb;not null"`
	RetryCount      int            `gorm:"not null"`
	FailureReason   string         `gorm:"type:text"`
	MovedToDLQAt    time.Time      `gorm:"column:moved_to_dlq_at"`
	Resolved        bool           `gorm:"not null"`
	ResolvedAt      *time.Time
	ResolvedBy      string `gorm:"type:varchar(100)"`
}

func (DeadLetterModel) TableName() string {
	return "dead_letter_events"
}

// Mappers

func inventoryToDomain(m InventoryModel) *inventory.Record {
	return &inventory.Record{
		ID:                m.ID,
		ProductID:         m.ProductID,
		ProductName:       m.ProductName,
		SKU:               m.SKU,
		QuantityAvailable: m.QuantityAvailable,
		QuantityReserved:  m.QuantityReserved,
		ReorderLevel:      m.ReorderLevel,
		ReorderQuantity:   m.ReorderQuantity,
		WarehouseLocation: m.WarehouseLocation,
		Version:           m.Version,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func inventoryToModel(d *inventory.Record) InventoryModel {
	return InventoryModel{
		ID:                d.ID,
		ProductID:         d.ProductID,
		ProductName:       d.ProductName,
		SKU:               d.SKU,
		QuantityAvailable: d.QuantityAvailable,
		QuantityReserved:  d.QuantityReserved,
		ReorderLevel:      d.ReorderLevel,
		ReorderQuantity:   d.ReorderQuantity,
		WarehouseLocation: d.WarehouseLocation,
		Version:           d.Version,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func reservationToDomain(m ReservationModel) *inventory.Reservation {
	return &inventory.Reservation{
		ID:          m.ID,
		OrderID:     m.OrderID,
		ProductID:   m.ProductID,
		Quantity:    m.Quantity,
		Status:      inventory.ReservationStatus(m.Status),
		ExpiresAt:   m.ExpiresAt,
		CreatedAt:   m.CreatedAt,
		ConfirmedAt: m.ConfirmedAt,
		ReleasedAt:  m.ReleasedAt,
		Version:     m.Version,
	}
}

func reservationToModel(d *inventory.Reservation) ReservationModel {
	return ReservationModel{
		ID:          d.ID,
		OrderID:     d.OrderID,
		ProductID:   d.ProductID,
		Quantity:    d.Quantity,
		Status:      string(d.Status),
		ExpiresAt:   d.ExpiresAt,
		CreatedAt:   d.CreatedAt,
		ConfirmedAt: d.ConfirmedAt,
		ReleasedAt:  d.ReleasedAt,
		Version:     d.Version,
	}
}

func movementToDomain(m MovementModel) *inventory.Movement {
	return &inventory.Movement{
		ID:               m.ID,
		InventoryID:      m.InventoryID,
		Type:             inventory.MovementType(m.MovementType),
		Quantity:         m.Quantity,
		PreviousQuantity: m.PreviousQuantity,
		NewQuantity:      m.NewQuantity,
		ReferenceID:      m.ReferenceID,
		ReferenceType:    m.ReferenceType,
		Reason:           m.Reason,
		CreatedBy:        m.CreatedBy,
		CreatedAt:        m.CreatedAt,
	}
}

func movementToModel(d *inventory.Movement) MovementModel {
	return MovementModel{
		ID:               d.ID,
		InventoryID:      d.InventoryID,
		MovementType:     string(d.Type),
		Quantity:         d.Quantity,
		PreviousQuantity: d.PreviousQuantity,
		NewQuantity:      d.NewQuantity,
		ReferenceID:      d.ReferenceID,
		ReferenceType:    d.ReferenceType,
		Reason:           d.Reason,
		CreatedBy:        d.CreatedBy,
		CreatedAt:        d.CreatedAt,
	}
}

func outboxToDomain(m OutboxModel) *outbox.Event {
	headers := m.Headers.Data()
	if headers == nil {
		headers = map[string]string{}
	}
	return &outbox.Event{
		ID:            m.ID,
		AggregateID:   m.AggregateID,
		AggregateType: m.AggregateType,
		EventType:     outbox.EventType(m.EventType),
		Payload:       []byte(m.Payload),
		Headers:       headers,
		Published:     m.Published,
		RetryCount:    m.RetryCount,
		CreatedAt:     m.CreatedAt,
		PublishedAt:   m.PublishedAt,
	}
}

func outboxToModel(d *outbox.Event) OutboxModel {
	return OutboxModel{
		ID:            d.ID,
		AggregateID:   d.AggregateID,
		AggregateType: d.AggregateType,
		EventType:     string(d.EventType),
		Payload:       datatypes.JSON(d.Payload),
		Headers:       datatypes.NewJSONType(d.Headers),
		Published:     d.Published,
		RetryCount:    d.RetryCount,
		CreatedAt:     d.CreatedAt,
		PublishedAt:   d.PublishedAt,
	}
}

func deadLetterToDomain(m DeadLetterModel) *deadletter.Event {
	return &deadletter.Event{
		ID:              m.ID,
		OriginalEventID: m.OriginalEventID,
		AggregateID:     m.AggregateID,
		AggregateType:   m.AggregateType,
		EventType:       outbox.EventType(m.EventType),
		Payload:         []byte(m.Payload),
		RetryCount:      m.RetryCount,
		FailureReason:   m.FailureReason,
		MovedToDLQAt:    m.MovedToDLQAt,
		Resolved:        m.Resolved,
		ResolvedAt:      m.ResolvedAt,
		ResolvedBy:      m.ResolvedBy,
	}
}

func deadLetterToModel(d *deadletter.Event) DeadLetterModel {
	return DeadLetterModel{
		ID:              d.ID,
		OriginalEventID: d.OriginalEventID,
		AggregateID:     d.AggregateID,
		AggregateType:   d.AggregateType,
		EventType:       string(d.EventType),
		Payload:         datatypes.JSON(d.Payload),
		RetryCount:      d.RetryCount,
		FailureReason:   d.FailureReason,
		MovedToDLQAt:    d.MovedToDLQAt,
		Resolved:        d.Resolved,
		ResolvedAt:      d.ResolvedAt,
		ResolvedBy:      d.ResolvedBy,
	}
}
