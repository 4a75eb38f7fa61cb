package catalog

import (
	"storefront/internal/domain/catalog/handler"
	"storefront/internal/domain/catalog/repository"
	"storefront/internal/domain/catalog/service"
	"storefront/internal/pkg/middleware"
	"storefront/internal/pkg/registry"
	"storefront/pkg/cache"
)

// CatalogModule 商品模块
type CatalogModule struct{}

func init() {
	registry.Register(&CatalogModule{})
}

func (m *CatalogModule) Name() string {
	return "catalog"
}

func (m *CatalogModule) Priority() int {
	return 5
}

func (m *CatalogModule) Init(ctx *registry.ModuleContext) error {
	var productCache cache.Cache = cache.NopCache{}
	if ctx.Redis != nil {
		productCache = cache.NewRedisCache(ctx.Redis, "storefront:")
	}
	h := handler.NewProductHandler(service.NewProductService(repository.NewProductRepository(ctx.DB), productCache))

	products := ctx.Router.Group("/products")
	{
		products.GET("", h.ListProducts)
		products.GET("/:id", h.GetProduct)
	}

	admin := ctx.Router.Group("/admin/products")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware())
	{
		admin.POST("", h.CreateProduct)
		admin.PUT("/:id/stock", h.SetStock)
	}
	return nil
}
