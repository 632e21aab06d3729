package domain

import (
	"errors"
	"fmt"
)

// ErrorCode: публичная таксономия ошибок автоматизации
type ErrorCode string

const (
	CodeInvalidParams              ErrorCode = "INVALID_PARAMS"
	CodeMissingEventType           ErrorCode = "MISSING_EVENT_TYPE"
	CodeInvalidEventType           ErrorCode = "INVALID_EVENT_TYPE"
	CodePolicyDisabled             ErrorCode = "POLICY_DISABLED"
	CodeTargetNotFound             ErrorCode = "TARGET_NOT_FOUND"
	CodeQueryFailed                ErrorCode = "QUERY_FAILED"
	CodeNotificationCreationFailed ErrorCode = "NOTIFICATION_CREATION_FAILED"
	CodeOutboxCreationFailed       ErrorCode = "OUTBOX_CREATION_FAILED"
	CodeExecutionFailed            ErrorCode = "EXECUTION_FAILED"
	CodePaused                     ErrorCode = "paused"
	CodeLimitExceeded              ErrorCode = "limit_exceeded"
	CodeForbidden                  ErrorCode = "FORBIDDEN"
	CodeUnauthenticated            ErrorCode = "UNAUTHENTICATED"
	CodeTaskNotFound               ErrorCode = "TASK_NOT_FOUND"
	CodeInvalidTaskState           ErrorCode = "INVALID_TASK_STATE"
	CodeUnknownIntent              ErrorCode = "UNKNOWN_INTENT"
)

// Ошибки хранилища, общие для postgres и memory
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("state conflict")
)

// CodedError несёт код таксономии через слои движка
type CodedError struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func NewError(code ErrorCode, msg string) *CodedError {
	return &CodedError{Code: code, Msg: msg}
}

func WrapError(code ErrorCode, msg string, err error) *CodedError {
	return &CodedError{Code: code, Msg: msg, Err: err}
}

func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *CodedError) Unwrap() error { return e.Err }

// Is сравнивает по коду, чтобы errors.Is(err, ErrX) работал и для обёрток с тем же кодом
func (e *CodedError) Is(target error) bool {
	t, ok := target.(*CodedError)
	return ok && t.Code == e.Code
}

// CodeOf достаёт код из цепочки; fallback: EXECUTION_FAILED
func CodeOf(err error) ErrorCode {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeExecutionFailed
}

// MessageOf текст без кода, пригодный для ответа клиенту
func MessageOf(err error) string {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
