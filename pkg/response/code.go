package response

// 业务状态码
const (
	CodeSuccess = 0
	CodeError   = 1

	// 用户模块错误 100xx
	ErrUserNotFound = 10002
	ErrAuthFailed   = 10003
	ErrTokenInvalid = 10004
	ErrNoPermission = 10005
	ErrLoginLocked  = 10006

	// 订单模块错误 200xx
	ErrOrderNotFound       = 20001
	ErrOutOfStock          = 20002
	ErrInvalidTransition   = 20003
	ErrProductNotAvailable = 20004

	// 支付模块错误 300xx
	ErrPaymentNotFound   = 30001
	ErrPaymentConflict   = 30002
	ErrSignatureInvalid  = 30003
	ErrUpstreamTimeout   = 30004
	ErrPaymentMismatch   = 30005
	ErrChannelNotSupport = 30006

	// 系统错误 500xx
	ErrServerInternal  = 50001
	ErrInvalidParam    = 50002
	ErrTooManyRequests = 50003
	ErrNotFound        = 50004
	ErrConflict        = 50005
)
