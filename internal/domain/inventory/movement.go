package inventory

import (
	"time"
)

type MovementType string

const (
	MovementReservation          MovementType = "RESERVATION"
	MovementReservationConfirmed MovementType = "RESERVATION_CONFIRMED"
	MovementRelease              MovementType = "RELEASE"
	MovementDeduction            MovementType = "DEDUCTION"
	MovementRestock              MovementType = "RESTOCK"
	MovementAdjustment           MovementType = "ADJUSTMENT"
	MovementReturn               MovementType = "RETURN"
)

const (
	ReferenceTypeOrder  = "ORDER"
	ReferenceTypeManual = "MANUAL"

	ActorSystem = "SYSTEM"
)

// Movement is an append-only audit entry for a ledger mutation.
type Movement struct {
	ID               int64        `json:"movement_id,string"`
	InventoryID      int64        `json:"inventory_id,string"`
	Type             MovementType `json:"movement_type"`
	Quantity         int          `json:"quantity"`
	PreviousQuantity int          `json:"previous_quantity"`
	NewQuantity      int          `json:"new_quantity"`
	ReferenceID      string       `json:"reference_id,omitempty"`
	ReferenceType    string       `json:"reference_type,omitempty"`
	Reason           string       `json:"reason,omitempty"`
	CreatedBy        string       `json:"created_by"`
	CreatedAt        time.Time    `json:"created_at"`
}
