package utils

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// 错误码,UI 层靠这些码区分"重试"/"不允许"/"不存在"
const (
	CodeValidation       = "validation_error"
	CodeNotFound         = "not_found"
	CodeConflict         = "conflict"
	CodeStoreUnavailable = "store_unavailable"
	CodeGateViolation    = "gate_violation"
)

// 敲门闸门的具体拒绝原因
const (
	GateReasonLocked         = "locked"          // receiver_pending 状态被锁定
	GateReasonBlocked        = "blocked"         // 被对方拉黑
	GateReasonRejected       = "rejected"        // 敲门已被拒绝
	GateReasonNotPending     = "not_pending"     // 当前状态不允许 accept/reject
	GateReasonNotConfirmable = "not_confirmable" // 当前状态不允许 confirm
)

// AppError 业务错误,所有到达 UI 层的错误都带码,不透传底层存储错误
type AppError struct {
	Code      string `json:"code"`
	Reason    string `json:"reason,omitempty"` // gate_violation 的细分原因
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	cause     error
}

func (e *AppError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s(%s): %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// ValidationError 参数非法,落库前就拒绝,不重试
func ValidationError(format string, args ...interface{}) *AppError {
	return &AppError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError 房间/参与者不存在
func NotFoundError(format string, args ...interface{}) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// ConflictError 并发创建冲突且重读也失败时才对外暴露
func ConflictError(message string, cause error) *AppError {
	return &AppError{Code: CodeConflict, Message: message, cause: cause}
}

// StoreError 存储层瞬时故障,重试耗尽后以可重试错误暴露
func StoreError(message string, cause error) *AppError {
	return &AppError{Code: CodeStoreUnavailable, Message: message, Retryable: true, cause: cause}
}

// GateViolation 发送被关系闸门拒绝,无任何副作用
func GateViolation(reason, message string) *AppError {
	return &AppError{Code: CodeGateViolation, Reason: reason, Message: message}
}

// AsAppError 提取业务错误;非业务错误一律包装成存储错误,避免裸错误外泄
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFoundError("record not found")
	}
	return StoreError("storage operation failed", err)
}

// IsAppCode 判断错误是否带指定错误码
func IsAppCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
