package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/railzwaylabs/stockflow/internal/domain/inventory"
)

type MovementRepository struct {
	db *gorm.DB
}

func (r *MovementRepository) Append(ctx context.Context, movement *inventory.Movement) error {
	model := movementToModel(movement)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *MovementRepository) ListByInventoryID(ctx context.Context, inventoryID int64, limit int) ([]*inventory.Movement, error) {
	query := r.db.WithContext(ctx).Where("inventory_id = ?", inventoryID).Order("created_at desc, id desc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []MovementModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]*inventory.Movement, 0, len(models))
	for _, model := range models {
		items = append(items, movementToDomain(model))
	}
	return items, nil
}
