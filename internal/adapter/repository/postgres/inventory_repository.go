package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/railzwaylabs/stockflow/internal/domain/inventory"
)

type InventoryRepository struct {
	db *gorm.DB
}

func (r *InventoryRepository) FindByProductID(ctx context.Context, productID uuid.UUID) (*inventory.Record, error) {
	return r.first(r.db.WithContext(ctx).Where("product_id = ?", productID))
}

func (r *InventoryRepository) FindBySKU(ctx context.Context, sku string) (*inventory.Record, error) {
	return r.first(r.db.WithContext(ctx).Where("sku = ?", sku))
}

func (r *InventoryRepository) LockByProductID(ctx context.Context, productID uuid.UUID) (*inventory.Record, error) {
	return r.first(r.db.WithContext(ctx).Clauses(forUpdate).Where("product_id = ?", productID))
}

func (r *InventoryRepository) first(query *gorm.DB) (*inventory.Record, error) {
	var model InventoryModel
	if err := query.First(&model).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return inventoryToDomain(model), nil
}

func (r *InventoryRepository) List(ctx context.Context, offset, limit int) ([]*inventory.Record, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&InventoryModel{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := r.db.WithContext(ctx).Order("created_at desc, id desc").Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []InventoryModel
	if err := query.Find(&models).Error; err != nil {
		return nil, 0, err
	}

	items := make([]*inventory.Record, 0, len(models))
	for _, model := range models {
		items = append(items, inventoryToDomain(model))
	}
	return items, total, nil
}

func (r *InventoryRepository) ListLowStock(ctx context.Context) ([]*inventory.Record, error) {
	var models []InventoryModel
	if err := r.db.WithContext(ctx).
		Where("quantity_available <= reorder_level").
		Order("quantity_available asc").
		Find(&models).Error; err != nil {
		return nil, err
	}

	items := make([]*inventory.Record, 0, len(models))
	for _, model := range models {
		items = append(items, inventoryToDomain(model))
	}
	return items, nil
}

func (r *InventoryRepository) Create(ctx context.Context, record *inventory.Record) error {
	model := inventoryToModel(record)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: product %s", inventory.ErrDuplicateInventory, record.ProductID)
		}
		return err
	}
	return nil
}

func (r *InventoryRepository) Save(ctx context.Context, record *inventory.Record) error {
	model := inventoryToModel(record)
	return r.db.WithContext(ctx).Save(&model).Error
}

func (r *InventoryRepository) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&InventoryModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"deleted_at": at,
			"updated_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return inventory.ErrInventoryNotFound
	}
	return nil
}
