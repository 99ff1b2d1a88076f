package outbox

import (
	"context"
	"time"
)

type EventType string

const (
	EventStockReserved        EventType = "STOCK_RESERVED"
	EventReservationConfirmed EventType = "RESERVATION_CONFIRMED"
	EventReservationReleased  EventType = "RESERVATION_RELEASED"
	EventLowStockAlert        EventType = "LOW_STOCK_ALERT"
	EventStockRestocked       EventType = "STOCK_RESTOCKED"
	EventStockAdjusted        EventType = "STOCK_ADJUSTED"
)

const (
	AggregateInventory = "INVENTORY"
	AggregateOrder     = "ORDER"
)

// HeaderCorrelationID carries the request correlation id through the bus.
const HeaderCorrelationID = "correlation_id"

// Event is a durable record of a domain event awaiting publication.
// Once Published is set the row is never touched by the dispatcher again.
type Event struct {
	ID            int64             `json:"id,string"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	EventType     EventType         `json:"event_type"`
	Payload       []byte            `json:"payload"`
	Headers       map[string]string `json:"headers,omitempty"`
	Published     bool              `json:"published"`
	RetryCount    int               `json:"retry_count"`
	CreatedAt     time.Time         `json:"created_at"`
	PublishedAt   *time.Time        `json:"published_at,omitempty"`
}

func NewEvent(id int64, aggregateType, aggregateID string, eventType EventType, payload []byte, now time.Time) *Event {
	return &Event{
		ID:            id,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payload,
		Headers:       map[string]string{},
		CreatedAt:     now,
	}
}

func (e *Event) MarkPublished(at time.Time) {
	e.Published = true
	e.PublishedAt = &at
}

type Repository interface {
	Enqueue(ctx context.Context, event *Event) error
	FindByID(ctx context.Context, id int64) (*Event, error)
	// ListUnpublished returns up to limit unpublished events, oldest first.
	ListUnpublished(ctx context.Context, limit int) ([]*Event, error)
	MarkPublished(ctx context.Context, id int64, at time.Time) error
	// MarkRepublished marks the event published and resets its retry counter.
	MarkRepublished(ctx context.Context, id int64, at time.Time) error
	IncrementRetry(ctx context.Context, id int64) error
	DeleteUnpublishedByAggregate(ctx context.Context, aggregateType, aggregateID string) error
}
