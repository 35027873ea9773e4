package engine

import (
	"errors"
	"fmt"
)

// ReconcileErrorCode 对账错误类别
type ReconcileErrorCode string

const (
	// ErrCodeSourceUnavailable 日历源或规则/台账存储整体不可用，本轮对账放弃
	ErrCodeSourceUnavailable ReconcileErrorCode = "SOURCE_UNAVAILABLE"

	// ErrCodeSchedulingFailed 外部唤醒网关对单条匹配的调度调用失败
	ErrCodeSchedulingFailed ReconcileErrorCode = "SCHEDULING_FAILED"

	// ErrCodePersistenceFailed 台账落库失败（调度已发出，状态可能暂时发散，
	// 下一轮对账会重新收敛）
	ErrCodePersistenceFailed ReconcileErrorCode = "PERSISTENCE_FAILED"
)

// ReconcileError 对账过程中的结构化错误
// 单条匹配的失败只进入 ReconcileReport.Failed，不会以 error 形式中断整轮；
// 这里的 error 返回只用于整轮级别的失败。
type ReconcileError struct {
	Code    ReconcileErrorCode
	Message string
	EventID string
	RuleID  string
	Err     error
}

// Error 实现 error 接口
func (e *ReconcileError) Error() string {
	if e.EventID != "" && e.RuleID != "" {
		return fmt.Sprintf("%s: %s (event_id=%s, rule_id=%s)", e.Code, e.Message, e.EventID, e.RuleID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 暴露底层错误供 errors.Is / errors.As 使用
func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// IsSourceUnavailable 判断错误是否为源不可用
func IsSourceUnavailable(err error) bool {
	var re *ReconcileError
	if errors.As(err, &re) {
		return re.Code == ErrCodeSourceUnavailable
	}
	return false
}

// newSourceError 整轮级别的源失败
func newSourceError(message string, err error) *ReconcileError {
	return &ReconcileError{
		Code:    ErrCodeSourceUnavailable,
		Message: message,
		Err:     err,
	}
}
