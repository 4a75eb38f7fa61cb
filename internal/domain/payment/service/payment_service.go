package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	orderModel "storefront/internal/domain/order/model"
	orderRepo "storefront/internal/domain/order/repository"
	"storefront/internal/domain/payment/model"
	"storefront/internal/domain/payment/repository"
	"storefront/internal/domain/payment/strategy"
	"storefront/pkg/apperr"
	"storefront/pkg/logger"
	"storefront/pkg/metrics"
	baseModel "storefront/pkg/model"
	"storefront/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var referencePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,64}$`)

// InitiateInput 发起支付参数
type InitiateInput struct {
	Method string `json:"method" binding:"required"`
	// Reference 客户端自带的关联号，为空时由服务端生成
	Reference string `json:"reference"`
}

// Viewer 发起支付的调用方
type Viewer struct {
	UserID string
	Admin  bool
}

// InitiationOutcome 发起支付的结果
type InitiationOutcome struct {
	Payment *model.Payment             `json:"payment"`
	Gateway *strategy.InitiationResult `json:"gateway,omitempty"`
}

type PaymentService interface {
	Initiate(ctx context.Context, orderID string, input InitiateInput, viewer Viewer) (*InitiationOutcome, error)
	GetPayment(ctx context.Context, paymentID string) (*model.Payment, error)
	ListDiscrepancies(ctx context.Context, unresolvedOnly bool, p utils.Pagination) (*utils.PageResult, error)
	ResolveDiscrepancy(ctx context.Context, id, actor, note string) (*model.Discrepancy, error)
}

type paymentService struct {
	db       *gorm.DB
	payments repository.PaymentRepository
	orders   orderRepo.OrderRepository
	gateways *Gateways
	timeout  time.Duration
	metrics  *metrics.MetricsCollector
	now      func() time.Time
}

func NewPaymentService(db *gorm.DB, payments repository.PaymentRepository, orders orderRepo.OrderRepository,
	gateways *Gateways, timeout time.Duration, m *metrics.MetricsCollector) PaymentService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &paymentService{
		db:       db,
		payments: payments,
		orders:   orders,
		gateways: gateways,
		timeout:  timeout,
		metrics:  m,
		now:      time.Now,
	}
}

func newReference(now time.Time) string {
	return fmt.Sprintf("P%s%s", now.UTC().Format("20060102150405"), strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12]))
}

// Initiate 为待支付订单创建 pending 支付记录并调用网关
//   - 受理结果未知 (超时、网络错误、5xx、无法解析的应答): 返回 UpstreamTimeout，
//     支付记录保持 pending，等待回调或主动查询
//   - 网关明确拒绝 (4xx) 或本地构造失败: 支付记录置为 failed，订单仍可重新发起
func (s *paymentService) Initiate(ctx context.Context, orderID string, input InitiateInput, viewer Viewer) (*InitiationOutcome, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !viewer.Admin && !order.IsGuest() && !order.OwnedBy(viewer.UserID) {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	if order.Status != orderModel.StatusPending {
		return nil, apperr.InvalidTransition("order %s is %s and cannot accept payment", order.ID, order.Status)
	}

	ref := input.Reference
	if ref == "" {
		ref = newReference(s.now())
	} else if !referencePattern.MatchString(ref) {
		return nil, apperr.Validation("reference must be 6-64 letters, digits, '-' or '_'")
	}

	payment := &model.Payment{
		OrderID:        order.ID,
		Method:         input.Method,
		Amount:         order.Total,
		Currency:       order.Currency,
		Status:         model.StatusPending,
		CorrelationRef: ref,
	}
	payment.ID = baseModel.NewID()

	if input.Method == model.MethodCOD {
		if err := s.payments.CreatePending(ctx, payment); err != nil {
			return nil, err
		}
		s.metrics.RecordInitiation(model.MethodCOD, "created")
		logger.Log.Info("Cash on delivery payment created", zap.String("payment_id", payment.ID), zap.String("order_id", order.ID))
		return &InitiationOutcome{Payment: payment}, nil
	}

	gw, err := s.gateways.Get(input.Method)
	if err != nil {
		return nil, apperr.Validation("payment method %q is not supported", input.Method)
	}
	payment.Gateway = gw.Name()

	req, err := gw.BuildInitiationRequest(order, payment)
	if err != nil {
		return nil, err
	}
	if err := s.payments.CreatePending(ctx, payment); err != nil {
		return nil, err
	}

	log := logger.Log.With(
		zap.String("payment_id", payment.ID),
		zap.String("order_id", order.ID),
		zap.String("gateway", payment.Gateway),
		zap.String("reference", payment.CorrelationRef),
	)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result, err := gw.Initiate(callCtx, req)
	switch {
	case err == nil:
		s.metrics.RecordInitiation(payment.Gateway, "ok")
		log.Info("Payment initiated")
		return &InitiationOutcome{Payment: payment, Gateway: result}, nil
	case errors.Is(err, apperr.ErrUpstreamTimeout):
		s.metrics.RecordInitiation(payment.Gateway, "timeout")
		log.Warn("Payment gateway timed out, payment left pending", zap.Error(err))
		return &InitiationOutcome{Payment: payment}, err
	}

	s.metrics.RecordInitiation(payment.Gateway, "rejected")
	log.Warn("Payment initiation failed", zap.Error(err))
	reason := err.Error()
	if len(reason) > 255 {
		reason = reason[:255]
	}
	finalizeErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.payments.Finalize(ctx, tx, payment.ID, model.Outcome{
			Status:        model.StatusFailed,
			FailureReason: reason,
		}, s.now())
		return err
	})
	if finalizeErr != nil {
		log.Error("Failed to mark payment as failed", zap.Error(finalizeErr))
		return nil, apperr.Internal(finalizeErr)
	}
	payment.Status = model.StatusFailed
	payment.FailureReason = reason
	if errors.Is(err, strategy.ErrGatewayRejected) {
		return &InitiationOutcome{Payment: payment}, apperr.Wrap(apperr.KindValidation, "payment gateway rejected the request", err)
	}
	return &InitiationOutcome{Payment: payment}, apperr.Wrap(apperr.KindInternal, "payment initiation failed", err)
}

func (s *paymentService) GetPayment(ctx context.Context, paymentID string) (*model.Payment, error) {
	return s.payments.GetByID(ctx, paymentID)
}

func (s *paymentService) ListDiscrepancies(ctx context.Context, unresolvedOnly bool, p utils.Pagination) (*utils.PageResult, error) {
	offset, limit := p.GetPageOffset()
	list, total, err := s.payments.ListDiscrepancies(ctx, unresolvedOnly, offset, limit)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return utils.NewPageResult(list, total, p), nil
}

func (s *paymentService) ResolveDiscrepancy(ctx context.Context, id, actor, note string) (*model.Discrepancy, error) {
	if strings.TrimSpace(note) == "" {
		return nil, apperr.Validation("resolution note is required")
	}
	d, err := s.payments.ResolveDiscrepancy(ctx, id, actor, note, s.now())
	if err != nil {
		return nil, err
	}
	logger.Log.Info("Discrepancy resolved", zap.String("discrepancy_id", id), zap.String("actor", actor))
	return d, nil
}
