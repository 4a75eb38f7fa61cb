package service

import (
	"context"
	"errors"
	"time"

	"storefront/internal/domain/user/model"
	"storefront/internal/domain/user/repository"
	"storefront/internal/pkg/guard"
	"storefront/internal/pkg/otp"
	"storefront/pkg/apperr"
	"storefront/pkg/logger"
	"storefront/pkg/utils"

	"go.uber.org/zap"
)

// LoginResult 登录结果
type LoginResult struct {
	Token    string      `json:"token"`
	ExpireAt *time.Time  `json:"expireAt"`
	User     *model.User `json:"user"`
}

// UserService 用户服务接口
type UserService interface {
	LoginOrRegister(ctx context.Context, mobile, code string) (*LoginResult, error)
	SendOTP(ctx context.Context, mobile string) error
	GetUser(ctx context.Context, id string) (*model.User, error)
}

type userService struct {
	repo  repository.UserRepository
	otp   otp.OTPService
	guard guard.Guard
}

// NewUserService 创建用户服务
func NewUserService(repo repository.UserRepository, otp otp.OTPService, g guard.Guard) UserService {
	return &userService{repo: repo, otp: otp, guard: g}
}

// LoginOrRegister 验证码登录，不存在则注册
// 同一手机号连续输错验证码会被锁定一段时间
func (s *userService) LoginOrRegister(ctx context.Context, mobile, code string) (*LoginResult, error) {
	st, err := s.guard.IsBlocked(ctx, mobile)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if st.Blocked {
		return nil, apperr.Locked(st.RetryAfter)
	}

	ok, err := s.otp.Verify(ctx, mobile, code)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		st, err := s.guard.RecordAttempt(ctx, mobile)
		if err != nil {
			logger.Log.Error("Failed to record login attempt", zap.String("mobile", mobile), zap.Error(err))
		}
		if st.Blocked {
			return nil, apperr.Locked(st.RetryAfter)
		}
		return nil, apperr.Unauthorized("invalid verification code, %d attempts remaining", st.AttemptsRemaining)
	}

	if err := s.guard.Clear(ctx, mobile); err != nil {
		logger.Log.Warn("Failed to clear login attempts", zap.String("mobile", mobile), zap.Error(err))
	}

	user, err := s.repo.GetByMobile(ctx, mobile)
	if errors.Is(err, apperr.ErrNotFound) {
		user = &model.User{
			Mobile:   mobile,
			Nickname: "User_" + mobile[len(mobile)-4:],
			Role:     model.RoleUser,
		}
		err = s.repo.Create(ctx, user)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if user.Status == model.StatusBanned {
		if user.BannedUntil == nil || now.Before(*user.BannedUntil) {
			return nil, apperr.Unauthorized("account is banned")
		}
		user.Status = model.StatusNormal
		user.BannedUntil = nil
	}
	if user.Status == model.StatusDeleted {
		return nil, apperr.Unauthorized("account has been deleted")
	}

	token, expireAt, err := utils.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, err
	}

	user.LastLoginAt = &now
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}

	return &LoginResult{Token: token, ExpireAt: expireAt, User: user}, nil
}

func (s *userService) SendOTP(ctx context.Context, mobile string) error {
	_, err := s.otp.Send(ctx, mobile)
	if errors.Is(err, otp.ErrTooFrequent) {
		return apperr.TooManyRequests("%s", err.Error())
	}
	return err
}

func (s *userService) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.repo.GetByID(ctx, id)
}
