package repository

import (
	"context"
	"errors"

	"storefront/internal/domain/catalog/model"
	"storefront/pkg/apperr"

	"gorm.io/gorm"
)

var ErrInsufficientStock = errors.New("insufficient stock")

type ProductRepository interface {
	Create(ctx context.Context, p *model.Product) error
	GetByID(ctx context.Context, id string) (*model.Product, error)
	FindByIDs(ctx context.Context, ids []string) ([]model.Product, error)
	List(ctx context.Context, offset, limit int) ([]model.Product, int64, error)
	// ReserveStock 在调用方事务中扣减库存
	ReserveStock(ctx context.Context, tx *gorm.DB, productID string, qty int) error
	// ReleaseStock 在调用方事务中归还库存
	ReleaseStock(ctx context.Context, tx *gorm.DB, productID string, qty int) error
	SetStock(ctx context.Context, productID string, stock int) (*model.Product, error)
}

type productRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) Create(ctx context.Context, p *model.Product) error {
	err := r.db.WithContext(ctx).Create(p).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Conflict("sku %s already exists", p.SKU)
	}
	return err
}

func (r *productRepository) GetByID(ctx context.Context, id string) (*model.Product, error) {
	var p model.Product
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("product %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepository) FindByIDs(ctx context.Context, ids []string) ([]model.Product, error) {
	var products []model.Product
	if len(ids) == 0 {
		return products, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error
	return products, err
}

func (r *productRepository) List(ctx context.Context, offset, limit int) ([]model.Product, int64, error) {
	var products []model.Product
	var total int64

	db := r.db.WithContext(ctx).Model(&model.Product{}).Where("active = ?", true)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&products).Error; err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

// ReserveStock 条件更新扣减库存，库存不足时不修改任何行
func (r *productRepository) ReserveStock(ctx context.Context, tx *gorm.DB, productID string, qty int) error {
	result := tx.WithContext(ctx).Model(&model.Product{}).
		Where("id = ? AND stock >= ?", productID, qty).
		UpdateColumn("stock", gorm.Expr("stock - ?", qty))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func (r *productRepository) ReleaseStock(ctx context.Context, tx *gorm.DB, productID string, qty int) error {
	return tx.WithContext(ctx).Model(&model.Product{}).
		Where("id = ?", productID).
		UpdateColumn("stock", gorm.Expr("stock + ?", qty)).Error
}

func (r *productRepository) SetStock(ctx context.Context, productID string, stock int) (*model.Product, error) {
	result := r.db.WithContext(ctx).Model(&model.Product{}).
		Where("id = ?", productID).
		UpdateColumn("stock", stock)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, apperr.NotFound("product %s not found", productID)
	}
	return r.GetByID(ctx, productID)
}
