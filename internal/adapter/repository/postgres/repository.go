package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/railzwaylabs/stockflow/internal/domain/store"
)

const uniqueViolation = "23505"

// forUpdate takes an exclusive row lock held until the transaction ends.
var forUpdate = clause.Locking{Strength: "UPDATE"}

// Store implements store.Transactor on top of a gorm connection.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Repositories() store.Repositories {
	return repositoriesFor(s.db)
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos store.Repositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, repositoriesFor(tx))
	})
}

func repositoriesFor(db *gorm.DB) store.Repositories {
	return store.Repositories{
		Inventory:    &InventoryRepository{db: db},
		Movements:    &MovementRepository{db: db},
		Reservations: &ReservationRepository{db: db},
		Outbox:       &OutboxRepository{db: db},
		DeadLetters:  &DeadLetterRepository{db: db},
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
