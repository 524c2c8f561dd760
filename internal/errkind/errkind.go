// 包 errkind：稳定的错误分类（机器可读 Kind + 人类可读 Message），供核心与 HTTP 层统一映射
package errkind

import (
	"errors"
	"fmt"
	"net/http"
)

// Error：带分类码的错误
// 约束：errors.Is 仅按 Kind 比较，Message 与 Err 不参与判定
type Error struct {
	Kind    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Kind == t.Kind
}

func (e *Error) Unwrap() error { return e.Err }

// WithMessage 返回同分类的新错误
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Kind: e.Kind, Message: msg}
}

// WithMessagef 返回同分类的新错误（格式化消息）
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap 保留底层错误，便于日志追踪
func (e *Error) Wrap(err error, msg string) *Error {
	if err == nil {
		return e.WithMessage(msg)
	}
	return &Error{Kind: e.Kind, Message: msg + ": " + err.Error(), Err: err}
}

var (
	NotFound            = &Error{Kind: "NotFound"}
	InvalidVillageCode  = &Error{Kind: "InvalidVillageCode"}
	MalformedCoordinate = &Error{Kind: "MalformedCoordinate"}
	ConcurrencyTimeout  = &Error{Kind: "ConcurrencyTimeout"}
	StorageUnavailable  = &Error{Kind: "StorageUnavailable"}
	InvalidRequest      = &Error{Kind: "InvalidRequest"}
	Conflict            = &Error{Kind: "Conflict"}
	IDExhausted         = &Error{Kind: "IDExhausted"}
)

// KindOf 提取分类码；非分类错误返回 "Internal"
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return "Internal"
}

// HTTPStatus：分类到 HTTP 状态码的映射
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case NotFound.Kind:
		return http.StatusNotFound
	case InvalidVillageCode.Kind, MalformedCoordinate.Kind, InvalidRequest.Kind:
		return http.StatusBadRequest
	case Conflict.Kind, IDExhausted.Kind:
		return http.StatusConflict
	case ConcurrencyTimeout.Kind:
		return http.StatusServiceUnavailable
	case StorageUnavailable.Kind:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
