package errs

import (
	"errors"
	"fmt"
)

// ConnectionError 链或网络不可达（重试耗尽后返回）
type ConnectionError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failed after %d attempts", e.Op, e.Attempts)
	}
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ValidationError 参数校验失败，Field 为出错字段名
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError 创建校验错误
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// StoreWriteError 数据库写入失败
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write %s: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

// NewStoreWriteError 包装数据库写入错误，err 为 nil 时返回 nil
func NewStoreWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreWriteError{Op: op, Err: err}
}

// EventProcessingError 事件处理失败
type EventProcessingError struct {
	EventName string
	TxHash    string
	Err       error
}

func (e *EventProcessingError) Error() string {
	return fmt.Sprintf("process %s (tx %s): %v", e.EventName, e.TxHash, e.Err)
}

func (e *EventProcessingError) Unwrap() error {
	return e.Err
}

// IsValidation 判断错误链中是否包含校验错误
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConnection 判断错误链中是否包含连接错误
func IsConnection(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsStoreWrite 判断错误链中是否包含数据库写入错误
func IsStoreWrite(err error) bool {
	var se *StoreWriteError
	return errors.As(err, &se)
}

// FieldOf 返回校验错误的字段名，非校验错误返回空串
func FieldOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field
	}
	return ""
}
