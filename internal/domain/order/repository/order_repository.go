package repository

import (
	"context"
	"errors"
	"time"

	"storefront/internal/domain/order/model"
	"storefront/pkg/apperr"

	"gorm.io/gorm"
)

type OrderRepository interface {
	Create(ctx context.Context, tx *gorm.DB, order *model.Order) error
	GetByID(ctx context.Context, id string) (*model.Order, error)
	// GetByIDTx 在事务内读取，不加载订单行
	GetByIDTx(ctx context.Context, tx *gorm.DB, id string) (*model.Order, error)
	// Transition 条件更新: 仅当当前状态仍为 from 时写入 to，返回是否生效
	Transition(ctx context.Context, tx *gorm.DB, id, from, to string, at time.Time) (bool, error)
	ListByUser(ctx context.Context, userID string, offset, limit int) ([]model.Order, int64, error)
	List(ctx context.Context, status string, offset, limit int) ([]model.Order, int64, error)
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return tx.WithContext(ctx).Create(order).Error
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("order %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) GetByIDTx(ctx context.Context, tx *gorm.DB, id string) (*model.Order, error) {
	var order model.Order
	err := tx.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("order %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) Transition(ctx context.Context, tx *gorm.DB, id, from, to string, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": at,
	}
	switch to {
	case model.StatusPaid:
		updates["paid_at"] = at
	case model.StatusCancelled:
		updates["cancelled_at"] = at
	}

	result := tx.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ?", id, from).
		UpdateColumns(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string, offset, limit int) ([]model.Order, int64, error) {
	return r.list(r.db.WithContext(ctx).Where("user_id = ?", userID), offset, limit)
}

func (r *orderRepository) List(ctx context.Context, status string, offset, limit int) ([]model.Order, int64, error) {
	db := r.db.WithContext(ctx)
	if status != "" {
		db = db.Where("status = ?", status)
	}
	return r.list(db, offset, limit)
}

func (r *orderRepository) list(db *gorm.DB, offset, limit int) ([]model.Order, int64, error) {
	var orders []model.Order
	var total int64

	if err := db.Model(&model.Order{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Preload("Items").Order("created_at DESC").Offset(offset).Limit(limit).Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}
