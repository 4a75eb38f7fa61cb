package guard

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lua 脚本：已锁定直接返回 + 清理窗口外记录 + 记录本次失败 + 达到阈值则锁定
var recordScript = redis.NewScript(`
	local attempts_key = KEYS[1]
	local lock_key = KEYS[2]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local max = tonumber(ARGV[3])
	local lockout = tonumber(ARGV[4])
	local member = ARGV[5]

	-- 1. 已处于锁定期
	local ttl = redis.call("PTTL", lock_key)
	if ttl > 0 then
		return {1, ttl, 0}
	end

	-- 2. 滑动窗口：移除窗口外的失败记录
	redis.call("ZREMRANGEBYSCORE", attempts_key, "-inf", now - window)

	-- 3. 记录本次失败
	redis.call("ZADD", attempts_key, now, member)
	redis.call("PEXPIRE", attempts_key, window)

	-- 4. 达到阈值则锁定
	local count = redis.call("ZCARD", attempts_key)
	if count >= max then
		redis.call("SET", lock_key, "1", "PX", lockout)
		redis.call("DEL", attempts_key)
		return {1, lockout, 0}
	end

	return {0, 0, max - count}
`)

// RedisGuard 基于 Redis 的锁定实现，多实例部署共享状态
type RedisGuard struct {
	rdb    *redis.Client
	scope  string
	policy Policy
	now    func() time.Time
}

func NewRedisGuard(rdb *redis.Client, scope string, policy Policy) *RedisGuard {
	return &RedisGuard{
		rdb:    rdb,
		scope:  scope,
		policy: policy,
		now:    time.Now,
	}
}

func (g *RedisGuard) attemptsKey(key string) string {
	return fmt.Sprintf("guard:%s:attempts:%s", g.scope, key)
}

func (g *RedisGuard) lockKey(key string) string {
	return fmt.Sprintf("guard:%s:lock:%s", g.scope, key)
}

func (g *RedisGuard) RecordAttempt(ctx context.Context, key string) (Status, error) {
	now := g.now().UnixMilli()
	res, err := recordScript.Run(ctx, g.rdb,
		[]string{g.attemptsKey(key), g.lockKey(key)},
		now,
		g.policy.Window.Milliseconds(),
		g.policy.MaxAttempts,
		g.policy.LockoutDuration.Milliseconds(),
		strconv.FormatInt(now, 10)+"-"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Status{}, fmt.Errorf("guard record attempt: %w", err)
	}
	if len(res) != 3 {
		return Status{}, fmt.Errorf("guard record attempt: unexpected reply %v", res)
	}

	return Status{
		Blocked:           res[0] == 1,
		RetryAfter:        time.Duration(res[1]) * time.Millisecond,
		AttemptsRemaining: int(res[2]),
	}, nil
}

func (g *RedisGuard) IsBlocked(ctx context.Context, key string) (Status, error) {
	ttl, err := g.rdb.PTTL(ctx, g.lockKey(key)).Result()
	if err != nil {
		return Status{}, fmt.Errorf("guard lock ttl: %w", err)
	}
	if ttl > 0 {
		return Status{Blocked: true, RetryAfter: ttl}, nil
	}

	// 只统计窗口内的失败次数，不修改数据
	from := "(" + strconv.FormatInt(g.now().Add(-g.policy.Window).UnixMilli(), 10)
	count, err := g.rdb.ZCount(ctx, g.attemptsKey(key), from, "+inf").Result()
	if err != nil {
		return Status{}, fmt.Errorf("guard count attempts: %w", err)
	}

	remaining := g.policy.MaxAttempts - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Status{AttemptsRemaining: remaining}, nil
}

func (g *RedisGuard) Clear(ctx context.Context, key string) error {
	return g.rdb.Del(ctx, g.attemptsKey(key), g.lockKey(key)).Err()
}

// RedisMarker 基于 SETNX 的"至多一次"标记
type RedisMarker struct {
	rdb *redis.Client
}

func NewRedisMarker(rdb *redis.Client) *RedisMarker {
	return &RedisMarker{rdb: rdb}
}

func (m *RedisMarker) Once(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return m.rdb.SetNX(ctx, "guard:once:"+key, 1, ttl).Result()
}

var (
	_ Guard  = (*RedisGuard)(nil)
	_ Marker = (*RedisMarker)(nil)
)
