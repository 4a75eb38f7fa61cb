package payment

import (
	"context"

	orderRepo "storefront/internal/domain/order/repository"
	"storefront/internal/domain/payment/handler"
	"storefront/internal/domain/payment/repository"
	"storefront/internal/domain/payment/service"
	"storefront/internal/domain/payment/strategy"
	"storefront/internal/pkg/archive"
	"storefront/internal/pkg/config"
	"storefront/internal/pkg/middleware"
	"storefront/internal/pkg/push"
	"storefront/internal/pkg/registry"
	"storefront/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PaymentModule 支付模块
type PaymentModule struct{}

func init() {
	registry.Register(&PaymentModule{})
}

func (m *PaymentModule) Name() string {
	return "payment"
}

func (m *PaymentModule) Priority() int {
	// 依赖订单模块
	return 20
}

func (m *PaymentModule) Init(ctx *registry.ModuleContext) error {
	cfg := ctx.Config
	gateways := service.NewGateways(enabledGateways(cfg.Payment)...)
	logger.Log.Info("Payment gateways enabled", zap.Strings("gateways", gateways.Names()))

	pRepo := repository.NewPaymentRepository(ctx.DB)
	oRepo := orderRepo.NewOrderRepository(ctx.DB)

	effects := &service.SideEffects{
		Marker:        ctx.Guards.Marker,
		Notifier:      newNotifier(cfg.Push),
		Archiver:      newArchiver(cfg.OSS),
		ArchivePrefix: cfg.OSS.Prefix,
		Orders:        oRepo,
	}
	if ctx.Workers != nil {
		effects.Queue = ctx.Workers
	}

	reconciler := service.NewReconciler(ctx.DB, pRepo, oRepo, gateways, ctx.Guards.Callback, effects, ctx.Metrics)
	pService := service.NewPaymentService(ctx.DB, pRepo, oRepo, gateways, cfg.Payment.InitiationTimeout, ctx.Metrics)

	setupRoutes(ctx.Router, handler.NewPaymentHandler(pService, reconciler, gateways))
	return nil
}

// enabledGateways 按配置注册网关，缺少配置的网关不启用
func enabledGateways(cfg config.PaymentConfig) []strategy.Gateway {
	var gateways []strategy.Gateway

	if cfg.Hosted.Endpoint != "" {
		hosted, err := strategy.NewHostedStrategy(cfg.Hosted, cfg.RedirectURL, cfg.InitiationTimeout)
		if err != nil {
			logger.Log.Error("Failed to init hosted gateway", zap.Error(err))
		} else {
			gateways = append(gateways, hosted)
		}
	}

	if cfg.Alipay.AppID != "" {
		alipayStrategy, err := strategy.NewAlipayStrategy(cfg.Alipay)
		if err != nil {
			logger.Log.Error("Failed to init Alipay strategy", zap.Error(err))
		} else {
			gateways = append(gateways, alipayStrategy)
		}
	}

	if cfg.Wechat.MchID != "" {
		wechatStrategy, err := strategy.NewWechatStrategy(context.Background(), cfg.Wechat)
		if err != nil {
			logger.Log.Error("Failed to init Wechat strategy", zap.Error(err))
		} else {
			gateways = append(gateways, wechatStrategy)
		}
	}

	return gateways
}

func newNotifier(cfg config.PushConfig) push.Notifier {
	n, err := push.NewAliyunPushService(cfg)
	if err != nil {
		logger.Log.Warn("Push notifications disabled", zap.Error(err))
		return push.NopNotifier{}
	}
	return n
}

func newArchiver(cfg config.OSSConfig) archive.Archiver {
	if cfg.BucketName == "" {
		return archive.NopArchiver{}
	}
	a, err := archive.NewAliyunOSSArchiver(cfg)
	if err != nil {
		logger.Log.Warn("Callback archiving disabled", zap.Error(err))
		return archive.NopArchiver{}
	}
	return a
}

func setupRoutes(r *gin.Engine, h *handler.PaymentHandler) {
	// 网关回调不鉴权，靠验签
	r.POST("/", h.HostedCallback)
	r.POST("/payments/callback/:gateway", h.Callback)

	initiate := r.Group("/orders")
	initiate.Use(middleware.OptionalAuthMiddleware())
	{
		initiate.POST("/:id/payments", h.Initiate)
	}

	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware())
	{
		admin.GET("/payments/:id", h.GetPayment)
		admin.POST("/payments/:id/query", h.Query)
		admin.POST("/payments/:id/settle", h.Settle)
		admin.GET("/discrepancies", h.ListDiscrepancies)
		admin.POST("/discrepancies/:id/resolve", h.ResolveDiscrepancy)
	}
}
