package service

import (
	"context"
	"errors"
	"time"

	"storefront/internal/domain/catalog/model"
	"storefront/internal/domain/catalog/repository"
	"storefront/pkg/apperr"
	"storefront/pkg/cache"
	"storefront/pkg/logger"
	"storefront/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// productTTL 详情页缓存时间，下单时的价格和库存始终以数据库为准
const productTTL = 30 * time.Second

type CreateProductInput struct {
	SKU   string          `json:"sku" binding:"required,max=64"`
	Name  string          `json:"name" binding:"required,max=255"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock" binding:"gte=0"`
}

type ProductService interface {
	CreateProduct(ctx context.Context, input CreateProductInput) (*model.Product, error)
	SetStock(ctx context.Context, productID string, stock int) (*model.Product, error)
	ListProducts(ctx context.Context, p utils.Pagination) (*utils.PageResult, error)
	GetProduct(ctx context.Context, id string) (*model.Product, error)
}

type productService struct {
	repo  repository.ProductRepository
	cache cache.Cache
}

func NewProductService(repo repository.ProductRepository, c cache.Cache) ProductService {
	if c == nil {
		c = cache.NopCache{}
	}
	return &productService{repo: repo, cache: c}
}

func productKey(id string) string {
	return "product:" + id
}

func (s *productService) CreateProduct(ctx context.Context, input CreateProductInput) (*model.Product, error) {
	if !input.Price.IsPositive() {
		return nil, apperr.Validation("price must be positive")
	}
	if input.Price.Exponent() < -2 {
		return nil, apperr.Validation("price supports at most 2 decimal places")
	}

	p := &model.Product{
		SKU:    input.SKU,
		Name:   input.Name,
		Price:  input.Price,
		Stock:  input.Stock,
		Active: true,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *productService) SetStock(ctx context.Context, productID string, stock int) (*model.Product, error) {
	if stock < 0 {
		return nil, apperr.Validation("stock must not be negative")
	}
	p, err := s.repo.SetStock(ctx, productID, stock)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Delete(ctx, productKey(productID)); err != nil {
		logger.Log.Warn("Failed to invalidate product cache", zap.String("product_id", productID), zap.Error(err))
	}
	return p, nil
}

func (s *productService) ListProducts(ctx context.Context, p utils.Pagination) (*utils.PageResult, error) {
	offset, limit := p.GetPageOffset()
	products, total, err := s.repo.List(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	return utils.NewPageResult(products, total, p), nil
}

func (s *productService) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	var cached model.Product
	err := s.cache.Get(ctx, productKey(id), &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		logger.Log.Warn("Product cache unavailable", zap.String("product_id", id), zap.Error(err))
	}

	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Active {
		if err := s.cache.Set(ctx, productKey(id), p, productTTL); err != nil {
			logger.Log.Warn("Failed to cache product", zap.String("product_id", id), zap.Error(err))
		}
	}
	return p, nil
}
