package handler

import (
	"net/http"
	"storefront/internal/domain/user/service"
	"storefront/internal/pkg/middleware"
	"storefront/pkg/response"

	"github.com/gin-gonic/gin"
)

// UserHandler 用户处理器
type UserHandler struct {
	service service.UserService
}

// NewUserHandler 创建处理器
func NewUserHandler(service service.UserService) *UserHandler {
	return &UserHandler{service: service}
}

type SendOTPInput struct {
	Mobile string `json:"mobile" binding:"required,min=11,max=20"`
}

type LoginInput struct {
	Mobile string `json:"mobile" binding:"required,min=11,max=20"`
	Code   string `json:"code" binding:"required,len=6"`
}

// SendOTP 发送验证码
// @Summary 发送登录验证码
// @Tags auth
// @Accept json
// @Produce json
// @Param body body SendOTPInput true "手机号"
// @Success 200 {object} response.Response
// @Router /auth/otp [post]
func (h *UserHandler) SendOTP(c *gin.Context) {
	var input SendOTPInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	if err := h.service.SendOTP(c.Request.Context(), input.Mobile); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// LoginOrRegister 验证码登录
// @Summary 验证码登录或注册
// @Tags auth
// @Accept json
// @Produce json
// @Param body body LoginInput true "手机号和验证码"
// @Success 200 {object} response.Response{data=service.LoginResult}
// @Failure 429 {object} response.Response
// @Router /auth/login [post]
func (h *UserHandler) LoginOrRegister(c *gin.Context) {
	var input LoginInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	result, err := h.service.LoginOrRegister(c.Request.Context(), input.Mobile, input.Code)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// Me 当前用户信息
// @Summary 当前用户
// @Tags auth
// @Security Bearer
// @Produce json
// @Success 200 {object} response.Response{data=model.User}
// @Router /users/me [get]
func (h *UserHandler) Me(c *gin.Context) {
	userID, _ := middleware.CurrentUserID(c)
	user, err := h.service.GetUser(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, user)
}
