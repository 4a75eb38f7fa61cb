package order

import (
	catalogRepo "storefront/internal/domain/catalog/repository"
	"storefront/internal/domain/order/handler"
	"storefront/internal/domain/order/repository"
	"storefront/internal/domain/order/service"
	"storefront/internal/pkg/middleware"
	"storefront/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// OrderModule 订单模块
type OrderModule struct{}

func init() {
	registry.Register(&OrderModule{})
}

func (m *OrderModule) Name() string {
	return "order"
}

func (m *OrderModule) Priority() int {
	// 依赖商品模块
	return 10
}

func (m *OrderModule) Init(ctx *registry.ModuleContext) error {
	orderService := service.NewOrderService(
		ctx.DB,
		repository.NewOrderRepository(ctx.DB),
		catalogRepo.NewProductRepository(ctx.DB),
		repository.NewStatusQuery(ctx.SQLX),
		ctx.Config.Payment.Currency,
		ctx.Metrics,
	)
	setupRoutes(ctx.Router, handler.NewOrderHandler(orderService))
	return nil
}

func setupRoutes(r *gin.Engine, h *handler.OrderHandler) {
	orders := r.Group("/orders")
	{
		// 游客可以下单和查询
		public := orders.Group("")
		public.Use(middleware.OptionalAuthMiddleware())
		public.POST("", h.CreateOrder)
		public.GET("/:id", h.GetOrder)
		public.GET("/:id/payment-status", h.PaymentStatus)

		auth := orders.Group("")
		auth.Use(middleware.AuthMiddleware())
		auth.GET("", h.ListMyOrders)
	}

	admin := r.Group("/admin/orders")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware())
	{
		admin.GET("", h.ListOrders)
		admin.PUT("/:id/status", h.UpdateStatus)
	}
}
