package repository

import (
	"context"
	"errors"
	"time"

	"storefront/internal/domain/payment/model"
	"storefront/pkg/apperr"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentRepository interface {
	// CreatePending 同一订单已有 pending 或 completed 记录、或存在未处理差异时返回 Conflict
	CreatePending(ctx context.Context, payment *model.Payment) error
	GetByID(ctx context.Context, id string) (*model.Payment, error)
	GetByIDTx(ctx context.Context, tx *gorm.DB, id string) (*model.Payment, error)
	GetByCorrelationRef(ctx context.Context, ref string) (*model.Payment, error)
	LatestForOrder(ctx context.Context, orderID string) (*model.Payment, error)
	// Finalize 条件更新 pending → 终态，返回是否由本次写入
	Finalize(ctx context.Context, tx *gorm.DB, id string, outcome model.Outcome, at time.Time) (bool, error)

	CreateDiscrepancy(ctx context.Context, tx *gorm.DB, d *model.Discrepancy) error
	// CreateDiscrepancyOnce 同一支付同类差异已存在时不写入，返回是否为首次
	CreateDiscrepancyOnce(ctx context.Context, tx *gorm.DB, d *model.Discrepancy) (bool, error)
	ListDiscrepancies(ctx context.Context, unresolvedOnly bool, offset, limit int) ([]model.Discrepancy, int64, error)
	ResolveDiscrepancy(ctx context.Context, id, actor, note string, at time.Time) (*model.Discrepancy, error)

	// LogCallback 按 (gateway, digest) 去重写入，返回是否为首次
	LogCallback(ctx context.Context, log *model.CallbackLog) (bool, error)
}

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) CreatePending(ctx context.Context, payment *model.Payment) error {
	payment.Status = model.StatusPending
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Payment{}).
			Where("order_id = ? AND status = ?", payment.OrderID, model.StatusPending).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return apperr.Conflict("order %s already has a pending payment", payment.OrderID)
		}
		// 已有成功支付或未处理的差异时再次收款会重复扣款
		if err := tx.Model(&model.Payment{}).
			Where("order_id = ? AND status = ?", payment.OrderID, model.StatusCompleted).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return apperr.Conflict("order %s already has a completed payment", payment.OrderID)
		}
		if err := tx.Model(&model.Discrepancy{}).
			Where("order_id = ? AND resolved_at IS NULL", payment.OrderID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return apperr.Conflict("order %s has an unresolved payment discrepancy", payment.OrderID)
		}
		return tx.Create(payment).Error
	})
	// 并发创建时由部分唯一索引兜底，关联号重复同样落在这里
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Conflict("pending payment or reference %s already exists", payment.CorrelationRef)
	}
	return err
}

func (r *paymentRepository) GetByID(ctx context.Context, id string) (*model.Payment, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

func (r *paymentRepository) GetByIDTx(ctx context.Context, tx *gorm.DB, id string) (*model.Payment, error) {
	return first(tx.WithContext(ctx).Where("id = ?", id), "payment "+id)
}

func (r *paymentRepository) GetByCorrelationRef(ctx context.Context, ref string) (*model.Payment, error) {
	return first(r.db.WithContext(ctx).Where("correlation_ref = ?", ref), "payment reference "+ref)
}

func (r *paymentRepository) LatestForOrder(ctx context.Context, orderID string) (*model.Payment, error) {
	return first(r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at DESC"), "payment for order "+orderID)
}

func first(db *gorm.DB, what string) (*model.Payment, error) {
	var p model.Payment
	err := db.First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("%s not found", what)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) Finalize(ctx context.Context, tx *gorm.DB, id string, outcome model.Outcome, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":       outcome.Status,
		"finalized_at": at,
		"updated_at":   at,
	}
	if outcome.ExternalTxnRef != "" {
		updates["external_txn_ref"] = outcome.ExternalTxnRef
	}
	if outcome.PaidAmount != nil {
		updates["paid_amount"] = *outcome.PaidAmount
	}
	if outcome.FailureReason != "" {
		updates["failure_reason"] = outcome.FailureReason
	}

	result := tx.WithContext(ctx).Model(&model.Payment{}).
		Where("id = ? AND status = ?", id, model.StatusPending).
		UpdateColumns(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *paymentRepository) CreateDiscrepancy(ctx context.Context, tx *gorm.DB, d *model.Discrepancy) error {
	return tx.WithContext(ctx).Create(d).Error
}

func (r *paymentRepository) CreateDiscrepancyOnce(ctx context.Context, tx *gorm.DB, d *model.Discrepancy) (bool, error) {
	result := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(d)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *paymentRepository) ListDiscrepancies(ctx context.Context, unresolvedOnly bool, offset, limit int) ([]model.Discrepancy, int64, error) {
	var items []model.Discrepancy
	var total int64

	db := r.db.WithContext(ctx).Model(&model.Discrepancy{})
	if unresolvedOnly {
		db = db.Where("resolved_at IS NULL")
	}
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *paymentRepository) ResolveDiscrepancy(ctx context.Context, id, actor, note string, at time.Time) (*model.Discrepancy, error) {
	result := r.db.WithContext(ctx).Model(&model.Discrepancy{}).
		Where("id = ? AND resolved_at IS NULL", id).
		UpdateColumns(map[string]interface{}{
			"resolved_at": at,
			"resolved_by": actor,
			"note":        note,
			"updated_at":  at,
		})
	if result.Error != nil {
		return nil, result.Error
	}

	var d model.Discrepancy
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("discrepancy %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 {
		return nil, apperr.Conflict("discrepancy %s is already resolved", id)
	}
	return &d, nil
}

func (r *paymentRepository) LogCallback(ctx context.Context, log *model.CallbackLog) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(log)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
