package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/docs"
	"storefront/internal/pkg/config"
	"storefront/internal/pkg/guard"
	"storefront/internal/pkg/middleware"
	"storefront/internal/pkg/registry"
	"storefront/internal/pkg/worker"
	"storefront/pkg/database"
	"storefront/pkg/logger"
	"storefront/pkg/metrics"
	"storefront/pkg/response"

	// 注册业务模块
	_ "storefront/internal/domain/catalog"
	_ "storefront/internal/domain/order"
	_ "storefront/internal/domain/payment"
	_ "storefront/internal/domain/user"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// @title Storefront API
// @version 1.0
// @description 订单与支付对账服务
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	config.LoadConfig()
	cfg := &config.GlobalConfig

	if err := logger.InitLogger(cfg.App.Env, cfg.App.Debug); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.InitDatabase(cfg.Database, cfg.App.Debug)
	if err != nil {
		logger.Log.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	rdb, err := database.InitRedis(cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	guards, err := guard.NewSet(cfg.Guard, rdb)
	if err != nil {
		logger.Log.Fatal("Failed to init guards", zap.Error(err))
	}

	collector := metrics.GetGlobalCollector()
	poolMonitor := database.NewPoolMonitor(db, collector, 15*time.Second)
	poolMonitor.Start()
	defer poolMonitor.Stop()

	workers := worker.NewWorkerPool(cfg.Worker.Workers, cfg.Worker.QueueSize, cfg.Worker.MaxRetry, collector)
	workers.Start()

	gin.SetMode(cfg.Server.Mode)
	r, err := middleware.NewEngine(cfg.Server)
	if err != nil {
		logger.Log.Fatal("Failed to init http engine", zap.Error(err))
	}
	r.Use(
		middleware.RecoveryMiddleware(),
		middleware.TraceMiddleware(),
		middleware.LoggerMiddleware(),
		middleware.MetricsMiddleware(collector),
		middleware.CORSMiddleware(cfg.CORS),
		middleware.SecurityHeadersMiddleware(),
		middleware.RateLimitMiddleware(middleware.NewIPRateLimiter(rate.Limit(50), 100)),
	)

	r.GET("/healthz", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			response.Error(c, http.StatusServiceUnavailable, response.ErrServerInternal, "database unavailable")
			return
		}
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			response.Error(c, http.StatusServiceUnavailable, response.ErrServerInternal, "redis unavailable")
			return
		}
		response.Success(c, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.App.Env != "prod" {
		docs.SwaggerInfo.Title = "Storefront API"
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	if err := registry.InitModules(&registry.ModuleContext{
		DB:      db.Gorm,
		SQLX:    db.SQLX,
		Redis:   rdb,
		Router:  r,
		Config:  cfg,
		Guards:  guards,
		Workers: workers,
		Metrics: collector,
	}); err != nil {
		logger.Log.Fatal("Failed to init modules", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.Info("Server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}
	// 等待已入队的通知和归档任务
	workers.Stop()
	logger.Log.Info("Server exited")
}
