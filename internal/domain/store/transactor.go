package store

import (
	"context"

	"github.com/railzwaylabs/stockflow/internal/domain/deadletter"
	"github.com/railzwaylabs/stockflow/internal/domain/inventory"
	"github.com/railzwaylabs/stockflow/internal/domain/outbox"
)

// Repositories groups the stores that take part in one unit of work.
type Repositories struct {
	Inventory    inventory.Repository
	Movements    inventory.MovementRepository
	Reservations inventory.ReservationRepository
	Outbox       outbox.Repository
	DeadLetters  deadletter.Repository
}

// Transactor runs fn inside a single local transaction. Any error returned by
// fn rolls back every write made through the supplied repositories.
type Transactor interface {
	Repositories() Repositories
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
