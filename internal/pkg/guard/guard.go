// Package guard 提供通用的失败次数锁定与"至多一次"标记原语
// 登录验证码校验和支付回调验签失败都复用同一套实现
package guard

import (
	"context"
	"fmt"
	"storefront/internal/pkg/config"
	"time"

	"github.com/redis/go-redis/v9"
)

// Policy 滑动窗口内失败 MaxAttempts 次后锁定 LockoutDuration
type Policy struct {
	MaxAttempts     int
	Window          time.Duration
	LockoutDuration time.Duration
}

// PolicyFromConfig 转换配置，LockoutDuration 为 0 时沿用 Window
func PolicyFromConfig(p config.LockoutPolicy) Policy {
	policy := Policy{
		MaxAttempts:     p.MaxAttempts,
		Window:          p.Window,
		LockoutDuration: p.LockoutDuration,
	}
	if policy.LockoutDuration <= 0 {
		policy.LockoutDuration = policy.Window
	}
	return policy
}

// Status 某个 key 的当前状态
type Status struct {
	Blocked           bool          `json:"blocked"`
	RetryAfter        time.Duration `json:"retryAfter"`
	AttemptsRemaining int           `json:"attemptsRemaining"`
}

// Guard 失败次数锁定
type Guard interface {
	// RecordAttempt 记录一次失败，返回记录后的状态
	RecordAttempt(ctx context.Context, key string) (Status, error)
	// IsBlocked 查询状态，不产生副作用
	IsBlocked(ctx context.Context, key string) (Status, error)
	// Clear 成功后清空计数和锁定
	Clear(ctx context.Context, key string) error
}

// Marker "至多一次"标记，首个调用方返回 true
type Marker interface {
	Once(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Set 按用途划分的 guard 集合
type Set struct {
	Login    Guard
	Callback Guard
	Marker   Marker
}

// NewSet 根据 guard.backend 在启动时确定实现，运行期间不再切换
func NewSet(cfg config.GuardConfig, rdb *redis.Client) (*Set, error) {
	login := PolicyFromConfig(cfg.Login)
	callback := PolicyFromConfig(cfg.Callback)

	switch cfg.Backend {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("guard backend redis requires a redis client")
		}
		return &Set{
			Login:    NewRedisGuard(rdb, "login", login),
			Callback: NewRedisGuard(rdb, "callback", callback),
			Marker:   NewRedisMarker(rdb),
		}, nil
	case "memory":
		return &Set{
			Login:    NewMemoryGuard(login),
			Callback: NewMemoryGuard(callback),
			Marker:   NewMemoryMarker(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown guard backend %q", cfg.Backend)
	}
}
