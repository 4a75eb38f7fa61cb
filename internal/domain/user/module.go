package user

import (
	"storefront/internal/domain/user/handler"
	"storefront/internal/domain/user/repository"
	"storefront/internal/domain/user/service"
	"storefront/internal/pkg/middleware"
	"storefront/internal/pkg/otp"
	"storefront/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// UserModule 用户模块
type UserModule struct{}

func init() {
	registry.Register(&UserModule{})
}

func (m *UserModule) Name() string {
	return "user"
}

func (m *UserModule) Priority() int {
	// 其他模块依赖认证，优先初始化
	return 1
}

func (m *UserModule) Init(ctx *registry.ModuleContext) error {
	userRepo := repository.NewUserRepository(ctx.DB)
	otpService := otp.NewOTPService(ctx.Redis, ctx.Config.App.TestOTPCode)
	userService := service.NewUserService(userRepo, otpService, ctx.Guards.Login)
	userHandler := handler.NewUserHandler(userService)

	setupRoutes(ctx.Router, userHandler)
	return nil
}

func setupRoutes(r *gin.Engine, h *handler.UserHandler) {
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", h.LoginOrRegister)
		authGroup.POST("/otp", h.SendOTP)
	}

	userGroup := r.Group("/users")
	userGroup.Use(middleware.AuthMiddleware())
	{
		userGroup.GET("/me", h.Me)
	}
}
