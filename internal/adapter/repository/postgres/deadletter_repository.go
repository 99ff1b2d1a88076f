package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/railzwaylabs/stockflow/internal/domain/deadletter"
)

type DeadLetterRepository struct {
	db *gorm.DB
}

// Create inserts the event unless one already exists for the same outbox event.
// A conflict does not abort the surrounding transaction.
func (r *DeadLetterRepository) Create(ctx context.Context, event *deadletter.Event) error {
	model := deadLetterToModel(event)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "original_event_id"}},
			DoNothing: true,
		}).
		Create(&model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return deadletter.ErrDuplicate
	}
	return nil
}

func (r *DeadLetterRepository) FindByID(ctx context.Context, id int64) (*deadletter.Event, error) {
	return r.first(r.db.WithContext(ctx), id)
}

func (r *DeadLetterRepository) LockByID(ctx context.Context, id int64) (*deadletter.Event, error) {
	return r.first(r.db.WithContext(ctx).Clauses(forUpdate), id)
}

func (r *DeadLetterRepository) first(query *gorm.DB, id int64) (*deadletter.Event, error) {
	var model DeadLetterModel
	if err := query.First(&model, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return deadLetterToDomain(model), nil
}

func (r *DeadLetterRepository) ListUnresolved(ctx context.Context) ([]*deadletter.Event, error) {
	var models []DeadLetterModel
	if err := r.db.WithContext(ctx).
		Where("resolved = ?", false).
		Order("moved_to_dlq_at desc, id desc").
		Find(&models).Error; err != nil {
		return nil, err
	}
	events := make([]*deadletter.Event, 0, len(models))
	for _, model := range models {
		events = append(events, deadLetterToDomain(model))
	}
	return events, nil
}

func (r *DeadLetterRepository) Count(ctx context.Context, resolved bool) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&DeadLetterModel{}).Where("resolved = ?", resolved).Count(&count).Error
	return count, err
}

func (r *DeadLetterRepository) MarkResolved(ctx context.Context, id int64, resolvedBy string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&DeadLetterModel{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]any{
			"resolved":    true,
			"resolved_at": at,
			"resolved_by": resolvedBy,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	existing, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return deadletter.ErrEventNotFound
	}
	return deadletter.ErrAlreadyResolved
}
