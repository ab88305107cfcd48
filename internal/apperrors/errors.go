package apperrors

import (
	"errors"

	"github.com/palemoky/danmaku-sync/internal/protocol"
)

// Kind 错误类别
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindForbidden
	KindStoreUnavailable
	KindBridgeUnavailable
	KindDeliveryTimeout
)

// Error 弹幕链路错误（投递、存储、广播共享）
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按类别匹配，便于 errors.Is(err, ErrValidation)
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// 预定义错误
var (
	ErrValidation        = &Error{Kind: KindValidation, Code: protocol.ErrCodeValidation, Message: "弹幕内容不合法"}
	ErrForbidden         = &Error{Kind: KindForbidden, Code: protocol.ErrCodeForbidden, Message: "无发送权限"}
	ErrStoreUnavailable  = &Error{Kind: KindStoreUnavailable, Code: protocol.ErrCodeStoreUnavailable, Message: "存储不可用"}
	ErrBridgeUnavailable = &Error{Kind: KindBridgeUnavailable, Code: protocol.ErrCodeBridgeUnavailable, Message: "广播通道不可用"}
	ErrDeliveryTimeout   = &Error{Kind: KindDeliveryTimeout, Code: protocol.ErrCodeDeliveryTimeout, Message: "投递超时"}
)

// Validation 创建校验错误
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Code: protocol.ErrCodeValidation, Message: msg}
}

// Forbidden 创建权限错误
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Code: protocol.ErrCodeForbidden, Message: msg}
}

// StoreUnavailable 包装存储层基础设施错误
func StoreUnavailable(err error) *Error {
	return &Error{Kind: KindStoreUnavailable, Code: protocol.ErrCodeStoreUnavailable, Message: "存储不可用", Err: err}
}

// BridgeUnavailable 包装广播层错误
func BridgeUnavailable(err error) *Error {
	return &Error{Kind: KindBridgeUnavailable, Code: protocol.ErrCodeBridgeUnavailable, Message: "广播通道不可用", Err: err}
}

// DeliveryTimeout 创建投递超时错误
func DeliveryTimeout(connID string) *Error {
	return &Error{Kind: KindDeliveryTimeout, Code: protocol.ErrCodeDeliveryTimeout, Message: "投递超时: " + connID}
}

// CodeOf 返回错误对应的协议错误码，未知错误返回 ErrCodeUnknown
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return protocol.ErrCodeUnknown
}

// MessageOf 返回适合发给客户端的错误文本，不暴露底层原因
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return protocol.ErrorMessages[protocol.ErrCodeUnknown]
}
