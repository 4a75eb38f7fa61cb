package middleware

import (
	"fmt"

	"storefront/internal/pkg/config"

	"github.com/gin-gonic/gin"
)

// NewEngine 创建 gin 引擎
// 只有来自 server.trusted_proxies 的请求才采信 X-Forwarded-For，
// 未配置时 ClientIP 就是直连地址，限流和回调锁定都按它计数
func NewEngine(cfg config.ServerConfig) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid server.trusted_proxies: %w", err)
	}
	return r, nil
}
