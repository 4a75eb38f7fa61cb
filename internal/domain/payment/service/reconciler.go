package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	orderModel "storefront/internal/domain/order/model"
	orderRepo "storefront/internal/domain/order/repository"
	"storefront/internal/domain/payment/model"
	"storefront/internal/domain/payment/repository"
	"storefront/internal/domain/payment/strategy"
	"storefront/internal/pkg/guard"
	"storefront/pkg/apperr"
	"storefront/pkg/logger"
	"storefront/pkg/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Result 回调处理结果
type Result string

const (
	ResultApplied          Result = "applied"
	ResultDuplicate        Result = "duplicate"
	ResultUnknownReference Result = "unknown_reference"
	ResultStillPending     Result = "still_pending"
	ResultDiscrepancy      Result = "discrepancy"
)

// Outcome 一次对账的结果
type Outcome struct {
	Result        Result             `json:"result"`
	PaymentID     string             `json:"paymentId,omitempty"`
	OrderID       string             `json:"orderId,omitempty"`
	PaymentStatus string             `json:"paymentStatus,omitempty"`
	OrderStatus   string             `json:"orderStatus,omitempty"`
	Discrepancy   *model.Discrepancy `json:"discrepancy,omitempty"`
}

// Err 出现差异时返回 Discrepancy 错误，支付结果已落库
func (o *Outcome) Err() error {
	if o.Result != ResultDiscrepancy || o.Discrepancy == nil {
		return nil
	}
	return apperr.Discrepancy("payment %s finalized with %s, manual reconciliation required", o.PaymentID, o.Discrepancy.Kind)
}

// Reconciler 把网关回调 (或人工结算) 应用到支付记录和订单
// 每次都读取数据库中的最新状态，不做任何进程内缓存
type Reconciler struct {
	db       *gorm.DB
	payments repository.PaymentRepository
	orders   orderRepo.OrderRepository
	gateways *Gateways
	guard    guard.Guard
	effects  *SideEffects
	metrics  *metrics.MetricsCollector
	now      func() time.Time
}

func NewReconciler(db *gorm.DB, payments repository.PaymentRepository, orders orderRepo.OrderRepository,
	gateways *Gateways, callbackGuard guard.Guard, effects *SideEffects, m *metrics.MetricsCollector) *Reconciler {
	return &Reconciler{
		db:       db,
		payments: payments,
		orders:   orders,
		gateways: gateways,
		guard:    callbackGuard,
		effects:  effects,
		metrics:  m,
		now:      time.Now,
	}
}

// HandleCallback 处理一次网关回调
//   - 验签失败: 返回 Signature 错误，不读写任何支付数据
//   - 找不到支付记录: 记录日志并返回 unknown_reference，正常应答
//   - 支付记录已终态: 返回 duplicate 和已存储的结果，
//     已失败的支付收到成功确认时记录 paid_after_failure 差异
//   - 否则在一个事务内写入支付终态，成功时推进订单
func (r *Reconciler) HandleCallback(ctx context.Context, gatewayName string, raw strategy.RawCallback) (out *Outcome, err error) {
	start := r.now()
	defer func() {
		result := "error"
		if out != nil {
			result = string(out.Result)
		} else if err != nil {
			result = string(apperr.KindOf(err))
		}
		r.metrics.RecordCallback(gatewayName, result, time.Since(start))
	}()

	gw, err := r.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}

	if raw.RemoteIP != "" {
		st, err := r.guard.IsBlocked(ctx, raw.RemoteIP)
		if err != nil {
			logger.Log.Error("Callback guard unavailable", zap.String("ip", raw.RemoteIP), zap.Error(err))
		} else if st.Blocked {
			r.metrics.RecordGuardBlock("callback")
			return nil, apperr.Locked(st.RetryAfter)
		}
	}

	v, err := gw.VerifyCallback(ctx, raw)
	if err != nil {
		if errors.Is(err, apperr.ErrSignature) {
			r.rejectForgery(ctx, gatewayName, raw, err)
		}
		return nil, err
	}

	log := logger.Log.With(
		zap.String("gateway", gatewayName),
		zap.String("reference", v.Reference),
		zap.String("claimed_status", string(v.Status)),
		zap.String("claimed_amount", v.Amount.String()),
	)

	payment, err := r.payments.GetByCorrelationRef(ctx, v.Reference)
	if errors.Is(err, apperr.ErrNotFound) {
		log.Warn("Callback for unknown reference ignored", zap.String("ip", raw.RemoteIP))
		return &Outcome{Result: ResultUnknownReference}, nil
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	log = log.With(zap.String("payment_id", payment.ID), zap.String("order_id", payment.OrderID))

	out, err = r.reconcile(ctx, payment, v)
	if err != nil {
		log.Error("Callback apply failed", zap.Error(err))
		return nil, apperr.Internal(err)
	}

	r.logCallback(ctx, payment, v, out, raw.RemoteIP)
	log.Info("Callback processed", zap.String("result", string(out.Result)))
	if out.Result == ResultApplied || out.Result == ResultDiscrepancy {
		r.effects.afterFinalize(ctx, payment, out, v)
	}
	return out, nil
}

func (r *Reconciler) reconcile(ctx context.Context, payment *model.Payment, v *strategy.VerifiedCallback) (*Outcome, error) {
	// 已失败的支付收到成功确认仍要走 apply，留下差异记录
	if payment.IsTerminal() && !(payment.Status == model.StatusFailed && v.Status == strategy.CallbackPaid) {
		return duplicateOf(payment), nil
	}

	switch v.Status {
	case strategy.CallbackPending:
		return &Outcome{
			Result:        ResultStillPending,
			PaymentID:     payment.ID,
			OrderID:       payment.OrderID,
			PaymentStatus: payment.Status,
		}, nil
	case strategy.CallbackFailed:
		return r.apply(ctx, payment, model.Outcome{
			Status:         model.StatusFailed,
			ExternalTxnRef: v.ExternalTxnRef,
			FailureReason:  "gateway reported failure",
		}, v.Currency)
	default:
		amount := v.Amount
		return r.apply(ctx, payment, model.Outcome{
			Status:         model.StatusCompleted,
			ExternalTxnRef: v.ExternalTxnRef,
			PaidAmount:     &amount,
		}, v.Currency)
	}
}

func duplicateOf(p *model.Payment) *Outcome {
	return &Outcome{
		Result:        ResultDuplicate,
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		PaymentStatus: p.Status,
	}
}

// apply 原子单元: 条件更新支付记录，成功时条件更新订单 pending → paid，
// 无法推进订单时在同一事务内写入差异记录
func (r *Reconciler) apply(ctx context.Context, payment *model.Payment, outcome model.Outcome, claimedCurrency string) (*Outcome, error) {
	now := r.now()
	out := &Outcome{PaymentID: payment.ID, OrderID: payment.OrderID}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, err := r.payments.Finalize(ctx, tx, payment.ID, outcome, now)
		if err != nil {
			return err
		}
		if !won {
			// 并发的另一次回调已经写入终态
			stored, err := r.payments.GetByIDTx(ctx, tx, payment.ID)
			if err != nil {
				return err
			}
			out.Result = ResultDuplicate
			out.PaymentStatus = stored.Status
			if stored.Status != model.StatusFailed || outcome.Status != model.StatusCompleted {
				return nil
			}
			d := paidAfterFailure(stored, outcome)
			created, err := r.payments.CreateDiscrepancyOnce(ctx, tx, d)
			if err != nil {
				return err
			}
			if created {
				out.Result = ResultDiscrepancy
				out.Discrepancy = d
			}
			return nil
		}

		out.PaymentStatus = outcome.Status
		if outcome.Status != model.StatusCompleted {
			out.Result = ResultApplied
			return nil
		}

		if d := crossCheck(payment, outcome, claimedCurrency); d != nil {
			if err := r.payments.CreateDiscrepancy(ctx, tx, d); err != nil {
				return err
			}
			out.Result = ResultDiscrepancy
			out.Discrepancy = d
			out.OrderStatus = orderModel.StatusPending
			return nil
		}

		moved, err := r.orders.Transition(ctx, tx, payment.OrderID, orderModel.StatusPending, orderModel.StatusPaid, now)
		if err != nil {
			return err
		}
		if moved {
			out.Result = ResultApplied
			out.OrderStatus = orderModel.StatusPaid
			return nil
		}

		order, err := r.orders.GetByIDTx(ctx, tx, payment.OrderID)
		if err != nil {
			return err
		}
		d := &model.Discrepancy{
			PaymentID: payment.ID,
			OrderID:   payment.OrderID,
			Kind:      model.DiscrepancyOrderNotPayable,
			Expected:  orderModel.StatusPending,
			Actual:    order.Status,
			Detail:    fmt.Sprintf("payment completed while order was %s", order.Status),
		}
		if err := r.payments.CreateDiscrepancy(ctx, tx, d); err != nil {
			return err
		}
		out.Result = ResultDiscrepancy
		out.Discrepancy = d
		out.OrderStatus = order.Status
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Discrepancy != nil {
		r.metrics.RecordDiscrepancy(out.Discrepancy.Kind)
		logger.Log.Warn("Payment discrepancy recorded",
			zap.String("payment_id", payment.ID),
			zap.String("order_id", payment.OrderID),
			zap.String("kind", out.Discrepancy.Kind),
			zap.String("expected", out.Discrepancy.Expected),
			zap.String("actual", out.Discrepancy.Actual),
		)
	}
	if out.OrderStatus == orderModel.StatusPaid {
		r.metrics.RecordOrderTransition(orderModel.StatusPaid)
	}
	return out, nil
}

// paidAfterFailure 支付记录保持 failed，钱可能已经扣了，交给人工处理
func paidAfterFailure(stored *model.Payment, outcome model.Outcome) *model.Discrepancy {
	actual := model.StatusCompleted
	if outcome.PaidAmount != nil {
		actual = outcome.PaidAmount.StringFixed(2)
	}
	detail := "gateway confirmed payment after it was marked failed"
	if outcome.ExternalTxnRef != "" {
		detail += ", txn " + outcome.ExternalTxnRef
	}
	return &model.Discrepancy{
		PaymentID: stored.ID,
		OrderID:   stored.OrderID,
		Kind:      model.DiscrepancyPaidAfterFailure,
		Expected:  model.StatusFailed,
		Actual:    actual,
		Detail:    detail,
	}
}

// crossCheck 网关确认的金额币种必须与支付记录一致
func crossCheck(payment *model.Payment, outcome model.Outcome, claimedCurrency string) *model.Discrepancy {
	if outcome.PaidAmount != nil && !outcome.PaidAmount.Equal(payment.Amount) {
		return &model.Discrepancy{
			PaymentID: payment.ID,
			OrderID:   payment.OrderID,
			Kind:      model.DiscrepancyAmountMismatch,
			Expected:  payment.Amount.StringFixed(2),
			Actual:    outcome.PaidAmount.StringFixed(2),
			Detail:    "gateway confirmed amount differs from payment amount",
		}
	}
	if claimedCurrency != "" && claimedCurrency != payment.Currency {
		return &model.Discrepancy{
			PaymentID: payment.ID,
			OrderID:   payment.OrderID,
			Kind:      model.DiscrepancyCurrencyMismatch,
			Expected:  payment.Currency,
			Actual:    claimedCurrency,
			Detail:    "gateway confirmed currency differs from payment currency",
		}
	}
	return nil
}

// rejectForgery 验签失败: 记录完整上下文，计入来源 IP 的失败次数
func (r *Reconciler) rejectForgery(ctx context.Context, gatewayName string, raw strategy.RawCallback, cause error) {
	fields := []zap.Field{
		zap.String("gateway", gatewayName),
		zap.String("ip", raw.RemoteIP),
		zap.Int("body_size", len(raw.Body)),
		zap.ByteString("body", truncateBody(raw.Body, 2048)),
		zap.Error(cause),
	}
	if raw.RemoteIP != "" {
		st, err := r.guard.RecordAttempt(ctx, raw.RemoteIP)
		if err != nil {
			fields = append(fields, zap.NamedError("guard_error", err))
		} else {
			fields = append(fields, zap.Bool("ip_blocked", st.Blocked))
		}
	}
	logger.Log.Warn("Callback signature rejected", fields...)
}

func truncateBody(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

func (r *Reconciler) logCallback(ctx context.Context, payment *model.Payment, v *strategy.VerifiedCallback, out *Outcome, ip string) {
	entry := &model.CallbackLog{
		Gateway:        v.Gateway,
		Digest:         v.Digest(),
		PaymentID:      payment.ID,
		CorrelationRef: v.Reference,
		ClaimedStatus:  string(v.Status),
		ClaimedAmount:  v.Amount,
		ExternalTxnRef: v.ExternalTxnRef,
		Result:         string(out.Result),
		RemoteIP:       ip,
		Payload:        string(v.Canonical()),
	}
	if _, err := r.payments.LogCallback(ctx, entry); err != nil {
		logger.Log.Error("Failed to write callback log", zap.String("payment_id", payment.ID), zap.Error(err))
	}
}

// Settle 人工结算 (货到付款收款、核实后的状态)，与回调走同一个原子写入
func (r *Reconciler) Settle(ctx context.Context, paymentID, status, actor, reason string) (*Outcome, error) {
	if status != model.StatusCompleted && status != model.StatusFailed {
		return nil, apperr.Validation("settle status must be completed or failed")
	}
	payment, err := r.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.IsTerminal() {
		return duplicateOf(payment), nil
	}

	outcome := model.Outcome{Status: status, ExternalTxnRef: "manual:" + actor}
	if status == model.StatusCompleted {
		amount := payment.Amount
		outcome.PaidAmount = &amount
	} else {
		outcome.FailureReason = reason
		if outcome.FailureReason == "" {
			outcome.FailureReason = "settled as failed by " + actor
		}
	}

	out, err := r.apply(ctx, payment, outcome, "")
	if err != nil {
		return nil, apperr.Internal(err)
	}
	logger.Log.Info("Payment settled manually",
		zap.String("payment_id", payment.ID),
		zap.String("actor", actor),
		zap.String("status", status),
		zap.String("result", string(out.Result)),
	)
	if out.Result == ResultApplied || out.Result == ResultDiscrepancy {
		r.effects.afterFinalize(ctx, payment, out, nil)
	}
	return out, nil
}

// QueryAndApply 主动向网关查询交易状态并应用
func (r *Reconciler) QueryAndApply(ctx context.Context, paymentID string) (*Outcome, error) {
	payment, err := r.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	// 已失败的网关支付仍然查询，网关事后确认成功时由 reconcile 记录差异
	if payment.Status == model.StatusCompleted || (payment.IsTerminal() && payment.Gateway == "") {
		return duplicateOf(payment), nil
	}

	gw, err := r.gateways.Get(payment.Gateway)
	if err != nil {
		return nil, err
	}
	querier, ok := gw.(strategy.StatusQuerier)
	if !ok {
		return nil, apperr.Validation("gateway %s does not support status queries", payment.Gateway)
	}

	v, err := querier.QueryStatus(ctx, payment)
	if err != nil {
		return nil, err
	}

	out, err := r.reconcile(ctx, payment, v)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	r.logCallback(ctx, payment, v, out, "")
	if out.Result == ResultApplied || out.Result == ResultDiscrepancy {
		r.effects.afterFinalize(ctx, payment, out, v)
	}
	return out, nil
}

// ReconcileService 回调、人工结算和主动查询的统一入口
type ReconcileService interface {
	HandleCallback(ctx context.Context, gatewayName string, raw strategy.RawCallback) (*Outcome, error)
	Settle(ctx context.Context, paymentID, status, actor, reason string) (*Outcome, error)
	QueryAndApply(ctx context.Context, paymentID string) (*Outcome, error)
}

var _ ReconcileService = (*Reconciler)(nil)
