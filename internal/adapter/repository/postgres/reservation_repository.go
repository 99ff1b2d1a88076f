package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/railzwaylabs/stockflow/internal/domain/inventory"
)

type ReservationRepository struct {
	db *gorm.DB
}

// LockOrder takes a transaction-scoped advisory lock keyed by the order id.
func (r *ReservationRepository) LockOrder(ctx context.Context, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", orderID.String()).Error
}

func (r *ReservationRepository) FindByOrderID(ctx context.Context, orderID uuid.UUID) ([]*inventory.Reservation, error) {
	return r.find(r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("product_id"))
}

func (r *ReservationRepository) LockByOrderID(ctx context.Context, orderID uuid.UUID) ([]*inventory.Reservation, error) {
	return r.find(r.db.WithContext(ctx).Clauses(forUpdate).Where("order_id = ?", orderID).Order("product_id"))
}

func (r *ReservationRepository) ExistsPendingForProduct(ctx context.Context, productID uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&ReservationModel{}).
		Where("product_id = ? AND status = ?", productID, string(inventory.ReservationPending)).
		Limit(1).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *ReservationRepository) ListExpiredPending(ctx context.Context, before time.Time, afterID int64, limit int) ([]*inventory.Reservation, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ? AND id > ?", string(inventory.ReservationPending), before, afterID).
		Order("id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	return r.find(query)
}

func (r *ReservationRepository) find(query *gorm.DB) ([]*inventory.Reservation, error) {
	var models []ReservationModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]*inventory.Reservation, 0, len(models))
	for _, model := range models {
		items = append(items, reservationToDomain(model))
	}
	return items, nil
}

func (r *ReservationRepository) Create(ctx context.Context, reservation *inventory.Reservation) error {
	model := reservationToModel(reservation)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order %s product %s", inventory.ErrDuplicateReservation, reservation.OrderID, reservation.ProductID)
		}
		return err
	}
	return nil
}

func (r *ReservationRepository) Save(ctx context.Context, reservation *inventory.Reservation) error {
	model := reservationToModel(reservation)
	return r.db.WithContext(ctx).Save(&model).Error
}
