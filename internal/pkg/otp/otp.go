package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"storefront/pkg/logger"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	codeTTL        = 5 * time.Minute
	resendInterval = time.Minute
)

var ErrTooFrequent = errors.New("please wait before sending again")

type OTPService interface {
	Send(ctx context.Context, mobile string) (string, error)
	Verify(ctx context.Context, mobile, code string) (bool, error)
}

type otpService struct {
	rdb   *redis.Client
	fixed string // 非空时所有验证码固定为该值，仅用于测试环境
}

func NewOTPService(rdb *redis.Client, fixedCode string) OTPService {
	return &otpService{rdb: rdb, fixed: fixedCode}
}

func key(mobile string) string {
	return fmt.Sprintf("otp:%s", mobile)
}

// Send 生成验证码并存入 Redis
// 短信通道未接入，验证码写入日志
func (s *otpService) Send(ctx context.Context, mobile string) (string, error) {
	ttl, err := s.rdb.TTL(ctx, key(mobile)).Result()
	if err == nil && ttl > codeTTL-resendInterval {
		return "", ErrTooFrequent
	}

	code := s.fixed
	if code == "" {
		n, err := rand.Int(rand.Reader, big.NewInt(1000000))
		if err != nil {
			return "", err
		}
		code = fmt.Sprintf("%06d", n.Int64())
	}

	if err := s.rdb.Set(ctx, key(mobile), code, codeTTL).Err(); err != nil {
		return "", err
	}

	logger.Log.Info("OTP issued", zap.String("mobile", mobile), zap.String("code", code))
	return code, nil
}

// Verify 验证成功后立即删除，防止重放
func (s *otpService) Verify(ctx context.Context, mobile, code string) (bool, error) {
	val, err := s.rdb.Get(ctx, key(mobile)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if subtle.ConstantTimeCompare([]byte(val), []byte(code)) != 1 {
		return false, nil
	}
	if err := s.rdb.Del(ctx, key(mobile)).Err(); err != nil {
		return false, err
	}
	return true, nil
}
