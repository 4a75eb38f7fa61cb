package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	catalogModel "storefront/internal/domain/catalog/model"
	catalogRepo "storefront/internal/domain/catalog/repository"
	"storefront/internal/domain/order/model"
	"storefront/internal/domain/order/repository"
	"storefront/pkg/apperr"
	"storefront/pkg/logger"
	"storefront/pkg/metrics"
	"storefront/pkg/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ItemInput struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity"`
}

type CustomerInfo struct {
	Name    string `json:"name" binding:"max=128"`
	Email   string `json:"email" binding:"omitempty,email,max=255"`
	Mobile  string `json:"mobile" binding:"max=20"`
	Address string `json:"address" binding:"max=512"`
}

// CreateOrderInput 下单参数，客户端提交的金额一律忽略
type CreateOrderInput struct {
	Items    []ItemInput  `json:"items"`
	Customer CustomerInfo `json:"customer"`
}

// Viewer 查询订单的调用方
type Viewer struct {
	UserID string
	Admin  bool
}

func (v Viewer) canSee(o *model.Order) bool {
	// 游客订单凭订单 ID 访问
	return v.Admin || o.IsGuest() || o.OwnedBy(v.UserID)
}

type OrderService interface {
	CreateOrder(ctx context.Context, input CreateOrderInput, ownerUserID *string) (*model.Order, error)
	TransitionStatus(ctx context.Context, orderID, to string) (*model.Order, error)
	GetOrder(ctx context.Context, orderID string, viewer Viewer) (*model.Order, error)
	ListMyOrders(ctx context.Context, userID string, p utils.Pagination) (*utils.PageResult, error)
	ListOrders(ctx context.Context, status string, p utils.Pagination) (*utils.PageResult, error)
	PaymentStatus(ctx context.Context, orderID string, viewer Viewer) (*repository.PaymentStatusView, error)
}

type orderService struct {
	db       *gorm.DB
	repo     repository.OrderRepository
	products catalogRepo.ProductRepository
	status   repository.StatusQuery
	currency string
	metrics  *metrics.MetricsCollector
}

func NewOrderService(db *gorm.DB, repo repository.OrderRepository, products catalogRepo.ProductRepository,
	status repository.StatusQuery, currency string, m *metrics.MetricsCollector) OrderService {
	return &orderService{
		db:       db,
		repo:     repo,
		products: products,
		status:   status,
		currency: currency,
		metrics:  m,
	}
}

// normalizeItems 校验数量并合并重复商品，按商品 ID 排序以固定加锁顺序
func normalizeItems(items []ItemInput) ([]ItemInput, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("order must contain at least one item")
	}
	merged := make(map[string]int, len(items))
	for _, it := range items {
		if it.ProductID == "" {
			return nil, apperr.Validation("product id is required")
		}
		if it.Quantity <= 0 {
			return nil, apperr.Validation("quantity for product %s must be positive", it.ProductID)
		}
		merged[it.ProductID] += it.Quantity
	}

	out := make([]ItemInput, 0, len(merged))
	for id, qty := range merged {
		out = append(out, ItemInput{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func validateCustomer(c CustomerInfo, guest bool) error {
	if !guest {
		return nil
	}
	if strings.TrimSpace(c.Name) == "" {
		return apperr.Validation("customer name is required for guest checkout")
	}
	if c.Email == "" && c.Mobile == "" {
		return apperr.Validation("customer email or mobile is required for guest checkout")
	}
	return nil
}

func generateOrderNo(now time.Time) string {
	return fmt.Sprintf("%s%s", now.Format("20060102150405"), strings.ToUpper(uuid.New().String()[:8]))
}

func (s *orderService) CreateOrder(ctx context.Context, input CreateOrderInput, ownerUserID *string) (*model.Order, error) {
	items, err := normalizeItems(input.Items)
	if err != nil {
		return nil, err
	}
	if err := validateCustomer(input.Customer, ownerUserID == nil); err != nil {
		return nil, err
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ProductID
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]catalogModel.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	now := time.Now()
	order := &model.Order{
		OrderNo:         generateOrderNo(now),
		UserID:          ownerUserID,
		Status:          model.StatusPending,
		Currency:        s.currency,
		CustomerName:    input.Customer.Name,
		CustomerEmail:   input.Customer.Email,
		CustomerMobile:  input.Customer.Mobile,
		ShippingAddress: input.Customer.Address,
	}

	total := decimal.Zero
	for _, it := range items {
		p, ok := byID[it.ProductID]
		if !ok || !p.Active {
			return nil, apperr.Validation("product %s is not available", it.ProductID)
		}
		if p.Stock < it.Quantity {
			return nil, apperr.Validation("product %s is out of stock", p.Name)
		}
		subtotal := p.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		total = total.Add(subtotal)
		order.Items = append(order.Items, model.OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    it.Quantity,
			UnitPrice:   p.Price,
			Subtotal:    subtotal,
		})
	}
	order.Total = total

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, it := range order.Items {
			if err := s.products.ReserveStock(ctx, tx, it.ProductID, it.Quantity); err != nil {
				if errors.Is(err, catalogRepo.ErrInsufficientStock) {
					return apperr.Validation("product %s is out of stock", it.ProductName)
				}
				return err
			}
		}
		return s.repo.Create(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("order_no", order.OrderNo),
		zap.String("total", order.Total.StringFixed(2)),
		zap.Bool("guest", order.IsGuest()),
	)
	s.metrics.RecordOrderTransition(model.StatusPending)
	return order, nil
}

// TransitionStatus 订单状态流转，条件更新保证并发下只有一个写入生效
// 取消时归还库存
func (s *orderService) TransitionStatus(ctx context.Context, orderID, to string) (*model.Order, error) {
	if !model.IsValidStatus(to) {
		return nil, apperr.Validation("unknown order status %q", to)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.GetByIDTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !model.CanTransition(order.Status, to) {
			return apperr.InvalidTransition("order cannot move from %s to %s", order.Status, to)
		}

		ok, err := s.repo.Transition(ctx, tx, orderID, order.Status, to, time.Now())
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidTransition("order %s was modified concurrently", orderID)
		}

		if to == model.StatusCancelled {
			var items []model.OrderItem
			if err := tx.WithContext(ctx).Where("order_id = ?", orderID).Find(&items).Error; err != nil {
				return err
			}
			for _, it := range items {
				if err := s.products.ReleaseStock(ctx, tx, it.ProductID, it.Quantity); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("Order status changed", zap.String("order_id", orderID), zap.String("to", to))
	s.metrics.RecordOrderTransition(to)
	return s.repo.GetByID(ctx, orderID)
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, viewer Viewer) (*model.Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !viewer.canSee(order) {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	return order, nil
}

func (s *orderService) ListMyOrders(ctx context.Context, userID string, p utils.Pagination) (*utils.PageResult, error) {
	offset, limit := p.GetPageOffset()
	orders, total, err := s.repo.ListByUser(ctx, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	return utils.NewPageResult(orders, total, p), nil
}

func (s *orderService) ListOrders(ctx context.Context, status string, p utils.Pagination) (*utils.PageResult, error) {
	if status != "" && !model.IsValidStatus(status) {
		return nil, apperr.Validation("unknown order status %q", status)
	}
	offset, limit := p.GetPageOffset()
	orders, total, err := s.repo.List(ctx, status, offset, limit)
	if err != nil {
		return nil, err
	}
	return utils.NewPageResult(orders, total, p), nil
}

// PaymentStatus 只读查询，不触发任何状态变更
func (s *orderService) PaymentStatus(ctx context.Context, orderID string, viewer Viewer) (*repository.PaymentStatusView, error) {
	st, err := s.status.PaymentStatus(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if st.UserID.Valid && !viewer.Admin && st.UserID.String != viewer.UserID {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	view := st.View()
	return &view, nil
}
