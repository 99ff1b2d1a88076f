package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/railzwaylabs/stockflow/internal/domain/outbox"
)

type OutboxRepository struct {
	db *gorm.DB
}

func (r *OutboxRepository) Enqueue(ctx context.Context, event *outbox.Event) error {
	model := outboxToModel(event)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *OutboxRepository) FindByID(ctx context.Context, id int64) (*outbox.Event, error) {
	var model OutboxModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return outboxToDomain(model), nil
}

func (r *OutboxRepository) ListUnpublished(ctx context.Context, limit int) ([]*outbox.Event, error) {
	query := r.db.WithContext(ctx).
		Where("published = ?", false).
		Order("created_at asc, id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []OutboxModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	events := make([]*outbox.Event, 0, len(models))
	for _, model := range models {
		events = append(events, outboxToDomain(model))
	}
	return events, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&OutboxModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published":    true,
			"published_at": at,
		}).Error
}

func (r *OutboxRepository) MarkRepublished(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&OutboxModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published":    true,
			"published_at": at,
			"retry_count":  0,
		}).Error
}

func (r *OutboxRepository) IncrementRetry(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&OutboxModel{}).
		Where("id = ? AND published = ?", id, false).
		Update("retry_count", gorm.Expr("retry_count + 1")).Error
}

func (r *OutboxRepository) DeleteUnpublishedByAggregate(ctx context.Context, aggregateType, aggregateID string) error {
	return r.db.WithContext(ctx).
		Where("aggregate_type = ? AND aggregate_id = ? AND published = ?", aggregateType, aggregateID, false).
		Delete(&OutboxModel{}).Error
}
