package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind 错误分类
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindSignature         Kind = "signature"
	KindInvalidTransition Kind = "invalid_transition"
	KindUpstreamTimeout   Kind = "upstream_timeout"
	KindDiscrepancy       Kind = "discrepancy"
	KindUnauthorized      Kind = "unauthorized"
	KindTooManyRequests   Kind = "too_many_requests"
	KindInternal          Kind = "internal"
)

// 哨兵错误，配合 errors.Is 使用
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrSignature         = &Error{Kind: KindSignature}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrUpstreamTimeout   = &Error{Kind: KindUpstreamTimeout}
	ErrDiscrepancy       = &Error{Kind: KindDiscrepancy}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrTooManyRequests   = &Error{Kind: KindTooManyRequests}
	ErrInternal          = &Error{Kind: KindInternal}
)

// Error 业务错误
type Error struct {
	Kind       Kind
	Message    string
	Err        error
	RetryAfter time.Duration // 仅 KindTooManyRequests 使用
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按 Kind 比较，使 errors.Is(err, apperr.ErrNotFound) 成立
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return newf(KindConflict, format, args...)
}

func InvalidTransition(format string, args ...interface{}) *Error {
	return newf(KindInvalidTransition, format, args...)
}

func Discrepancy(format string, args ...interface{}) *Error {
	return newf(KindDiscrepancy, format, args...)
}

func Unauthorized(format string, args ...interface{}) *Error {
	return newf(KindUnauthorized, format, args...)
}

func TooManyRequests(format string, args ...interface{}) *Error {
	return newf(KindTooManyRequests, format, args...)
}

// Locked 被锁定，RetryAfter 之后可重试
func Locked(retryAfter time.Duration) *Error {
	e := newf(KindTooManyRequests, "too many failed attempts, retry after %ds", int(retryAfter.Seconds()+0.5))
	e.RetryAfter = retryAfter
	return e
}

// RetryAfterOf 返回锁定剩余时间，没有时为 0
func RetryAfterOf(err error) time.Duration {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}

// Signature 签名错误只保留内部原因，不对外暴露
func Signature(err error) *Error {
	return &Error{Kind: KindSignature, Message: "signature verification failed", Err: err}
}

func UpstreamTimeout(err error) *Error {
	return &Error{Kind: KindUpstreamTimeout, Message: "payment gateway did not respond", Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// Wrap 给错误附加 Kind，已是 *Error 时原样返回
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf 返回错误分类，非 *Error 视为 internal
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}
