package service

import (
	"context"
	"storefront/internal/domain/user/model"
	"storefront/internal/pkg/config"
	"storefront/internal/pkg/guard"
	"storefront/pkg/apperr"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockUserRepository is a mock of UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *model.User) error {
	args := m.Called(ctx, user)
	if user.ID == "" {
		user.ID = "new-user-id"
	}
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUserRepository) GetByMobile(ctx context.Context, mobile string) (*model.User, error) {
	args := m.Called(ctx, mobile)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUserRepository) Update(ctx context.Context, user *model.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

// MockOTPService is a mock of OTPService
type MockOTPService struct {
	mock.Mock
}

func (m *MockOTPService) Send(ctx context.Context, mobile string) (string, error) {
	args := m.Called(ctx, mobile)
	return args.String(0), args.Error(1)
}

func (m *MockOTPService) Verify(ctx context.Context, mobile, code string) (bool, error) {
	args := m.Called(ctx, mobile, code)
	return args.Bool(0), args.Error(1)
}

func createTestUser(id, mobile string) *model.User {
	u := &model.User{
		Mobile:   mobile,
		Nickname: "TestUser",
		Role:     model.RoleUser,
		Status:   model.StatusNormal,
	}
	u.ID = id
	return u
}

func setupService() (*MockUserRepository, *MockOTPService, guard.Guard, UserService) {
	config.GlobalConfig.JWT.Secret = "test-secret-key-at-least-32-characters"
	config.GlobalConfig.JWT.Expire = 1

	mockRepo := new(MockUserRepository)
	mockOTP := new(MockOTPService)
	g := guard.NewMemoryGuard(guard.Policy{MaxAttempts: 3, Window: time.Minute, LockoutDuration: time.Minute})
	return mockRepo, mockOTP, g, NewUserService(mockRepo, mockOTP, g)
}

func TestLoginOrRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("New user registration success", func(t *testing.T) {
		mockRepo, mockOTP, _, service := setupService()
		mobile := "13800138000"

		mockOTP.On("Verify", ctx, mobile, "123456").Return(true, nil)
		mockRepo.On("GetByMobile", ctx, mobile).Return(nil, apperr.NotFound("user not found"))
		mockRepo.On("Create", ctx, mock.AnythingOfType("*model.User")).Return(nil)
		mockRepo.On("Update", ctx, mock.AnythingOfType("*model.User")).Return(nil)

		result, err := service.LoginOrRegister(ctx, mobile, "123456")

		require.NoError(t, err)
		assert.NotEmpty(t, result.Token)
		assert.Equal(t, "User_8000", result.User.Nickname)
		mockOTP.AssertExpectations(t)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Existing user login success", func(t *testing.T) {
		mockRepo, mockOTP, _, service := setupService()
		mobile := "13800138001"
		user := createTestUser("existing-user-id", mobile)

		mockOTP.On("Verify", ctx, mobile, "123456").Return(true, nil)
		mockRepo.On("GetByMobile", ctx, mobile).Return(user, nil)
		mockRepo.On("Update", ctx, user).Return(nil)

		result, err := service.LoginOrRegister(ctx, mobile, "123456")

		require.NoError(t, err)
		assert.NotNil(t, result.User.LastLoginAt)
		mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("Invalid verification code", func(t *testing.T) {
		_, mockOTP, _, service := setupService()
		mobile := "13800138002"

		mockOTP.On("Verify", ctx, mobile, "000000").Return(false, nil)

		result, err := service.LoginOrRegister(ctx, mobile, "000000")

		assert.Nil(t, result)
		assert.ErrorIs(t, err, apperr.ErrUnauthorized)
		assert.Contains(t, err.Error(), "2 attempts remaining")
	})

	t.Run("Locked after repeated failures", func(t *testing.T) {
		_, mockOTP, _, service := setupService()
		mobile := "13800138003"

		mockOTP.On("Verify", ctx, mobile, "000000").Return(false, nil)

		_, _ = service.LoginOrRegister(ctx, mobile, "000000")
		_, _ = service.LoginOrRegister(ctx, mobile, "000000")
		_, err := service.LoginOrRegister(ctx, mobile, "000000")
		assert.ErrorIs(t, err, apperr.ErrTooManyRequests)

		// 锁定期间即使验证码正确也不校验
		_, err = service.LoginOrRegister(ctx, mobile, "123456")
		assert.ErrorIs(t, err, apperr.ErrTooManyRequests)
		assert.Greater(t, apperr.RetryAfterOf(err), time.Duration(0))
		mockOTP.AssertNumberOfCalls(t, "Verify", 3)
	})

	t.Run("Success clears failure counter", func(t *testing.T) {
		mockRepo, mockOTP, g, service := setupService()
		mobile := "13800138004"
		user := createTestUser("u4", mobile)

		mockOTP.On("Verify", ctx, mobile, "000000").Return(false, nil)
		mockOTP.On("Verify", ctx, mobile, "123456").Return(true, nil)
		mockRepo.On("GetByMobile", ctx, mobile).Return(user, nil)
		mockRepo.On("Update", ctx, user).Return(nil)

		_, _ = service.LoginOrRegister(ctx, mobile, "000000")
		_, _ = service.LoginOrRegister(ctx, mobile, "000000")
		_, err := service.LoginOrRegister(ctx, mobile, "123456")
		require.NoError(t, err)

		st, err := g.IsBlocked(ctx, mobile)
		require.NoError(t, err)
		assert.False(t, st.Blocked)
		assert.Equal(t, 3, st.AttemptsRemaining)
	})

	t.Run("Banned user", func(t *testing.T) {
		mockRepo, mockOTP, _, service := setupService()
		mobile := "13800138005"
		user := createTestUser("u5", mobile)
		user.Status = model.StatusBanned

		mockOTP.On("Verify", ctx, mobile, "123456").Return(true, nil)
		mockRepo.On("GetByMobile", ctx, mobile).Return(user, nil)

		_, err := service.LoginOrRegister(ctx, mobile, "123456")
		assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	})
}

func TestSendOTP(t *testing.T) {
	ctx := context.Background()
	_, mockOTP, _, service := setupService()

	mockOTP.On("Send", ctx, "13800138000").Return("123456", nil)

	assert.NoError(t, service.SendOTP(ctx, "13800138000"))
	mockOTP.AssertExpectations(t)
}
