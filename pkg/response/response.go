package response

import (
	"math"
	"net/http"
	"strconv"

	"storefront/pkg/apperr"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`    // 业务码
	Message string      `json:"message"` // 提示信息
	Data    interface{} `json:"data"`    // 数据
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, httpCode int, errCode int, msg string) {
	c.JSON(httpCode, Response{
		Code:    errCode,
		Message: msg,
		Data:    nil,
	})
}

// ErrorWithData 错误响应，附带数据 (如支付发起未确认时返回 payment id)
func ErrorWithData(c *gin.Context, httpCode int, errCode int, msg string, data interface{}) {
	c.JSON(httpCode, Response{
		Code:    errCode,
		Message: msg,
		Data:    data,
	})
}

// Fail 业务失败响应 (HTTP 200, 业务码非 0)
func Fail(c *gin.Context, errCode int, msg string) {
	c.JSON(http.StatusOK, Response{
		Code:    errCode,
		Message: msg,
		Data:    nil,
	})
}

// Status 将错误分类映射为 HTTP 状态码和业务码
func Status(err error) (int, int) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest, ErrInvalidParam
	case apperr.KindNotFound:
		return http.StatusNotFound, ErrNotFound
	case apperr.KindConflict:
		return http.StatusConflict, ErrConflict
	case apperr.KindSignature:
		return http.StatusUnauthorized, ErrSignatureInvalid
	case apperr.KindInvalidTransition:
		return http.StatusConflict, ErrInvalidTransition
	case apperr.KindUpstreamTimeout:
		return http.StatusGatewayTimeout, ErrUpstreamTimeout
	case apperr.KindDiscrepancy:
		return http.StatusConflict, ErrPaymentMismatch
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized, ErrTokenInvalid
	case apperr.KindTooManyRequests:
		return http.StatusTooManyRequests, ErrTooManyRequests
	default:
		return http.StatusInternalServerError, ErrServerInternal
	}
}

// FromError 按错误分类输出响应
// 签名错误和内部错误不回显细节
func FromError(c *gin.Context, err error) {
	httpCode, errCode := Status(err)
	msg := err.Error()
	switch apperr.KindOf(err) {
	case apperr.KindSignature:
		msg = "invalid callback"
	case apperr.KindInternal:
		msg = "internal server error"
	case apperr.KindTooManyRequests:
		if d := apperr.RetryAfterOf(err); d > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
		}
	}
	Error(c, httpCode, errCode, msg)
}
