package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	orderRepo "storefront/internal/domain/order/repository"
	"storefront/internal/domain/payment/model"
	"storefront/internal/domain/payment/strategy"
	"storefront/internal/pkg/archive"
	"storefront/internal/pkg/guard"
	"storefront/internal/pkg/push"
	"storefront/internal/pkg/worker"
	"storefront/pkg/apperr"
	"storefront/pkg/logger"

	"go.uber.org/zap"
)

// Gateways 已注册的支付网关
type Gateways struct {
	byName map[string]strategy.Gateway
}

func NewGateways(gateways ...strategy.Gateway) *Gateways {
	g := &Gateways{byName: make(map[string]strategy.Gateway, len(gateways))}
	for _, gw := range gateways {
		g.byName[gw.Name()] = gw
	}
	return g
}

func (g *Gateways) Get(name string) (strategy.Gateway, error) {
	gw, ok := g.byName[name]
	if !ok {
		return nil, apperr.NotFound("payment gateway %q is not enabled", name)
	}
	return gw, nil
}

func (g *Gateways) Names() []string {
	names := make([]string, 0, len(g.byName))
	for name := range g.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TaskQueue 异步任务队列
type TaskQueue interface {
	AddTask(t worker.Task) bool
}

// markerTTL 需要覆盖网关的最长重试周期
const markerTTL = 7 * 24 * time.Hour

// SideEffects 支付终态写入后的通知和归档，每笔支付至多触发一次
type SideEffects struct {
	Queue         TaskQueue
	Marker        guard.Marker
	Notifier      push.Notifier
	Archiver      archive.Archiver
	ArchivePrefix string
	Orders        orderRepo.OrderRepository
}

func (e *SideEffects) afterFinalize(ctx context.Context, payment *model.Payment, out *Outcome, v *strategy.VerifiedCallback) {
	if e == nil || e.Queue == nil || e.Marker == nil {
		return
	}
	log := logger.Log.With(zap.String("payment_id", payment.ID), zap.String("result", string(out.Result)))

	first, err := e.Marker.Once(ctx, "payment:finalized:"+payment.ID, markerTTL)
	if err != nil {
		// 宁可漏发也不重复
		log.Error("Side effect marker unavailable, skipping", zap.Error(err))
		return
	}
	if !first {
		return
	}

	if v != nil && e.Archiver != nil {
		key := archive.ObjectKey(e.ArchivePrefix, v.Gateway, v.Reference, time.Now())
		if !e.Queue.AddTask(&archive.Task{Archiver: e.Archiver, Key: key, Body: v.Canonical()}) {
			log.Warn("Archive task dropped")
		}
	}

	if e.Notifier == nil || e.Orders == nil {
		return
	}
	order, err := e.Orders.GetByID(ctx, payment.OrderID)
	if err != nil {
		log.Error("Failed to load order for notification", zap.Error(err))
		return
	}
	if order.IsGuest() {
		return
	}

	msg := push.Message{
		AccountID: *order.UserID,
		Extras:    map[string]string{"orderId": order.ID, "paymentId": payment.ID},
	}
	switch {
	case out.Result == ResultDiscrepancy:
		msg.Title = "支付待核实"
		msg.Body = fmt.Sprintf("订单 %s 的支付正在人工核实", order.OrderNo)
	case out.PaymentStatus == model.StatusCompleted:
		msg.Title = "支付成功"
		msg.Body = fmt.Sprintf("订单 %s 已支付", order.OrderNo)
	default:
		msg.Title = "支付失败"
		msg.Body = fmt.Sprintf("订单 %s 支付失败，请重新支付", order.OrderNo)
	}
	if !e.Queue.AddTask(&push.Task{Notifier: e.Notifier, Message: msg}) {
		log.Warn("Push task dropped")
	}
}
