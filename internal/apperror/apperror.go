package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// 错误码
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeInternal          = "INTERNAL_SERVER_ERROR"
	CodeSimulated         = "SIMULATED_ERROR"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeHTTPException     = "HTTP_EXCEPTION"
)

// AppError 应用错误：HTTP状态码、错误码、是否为可预期（operational）错误
type AppError struct {
	StatusCode  int
	Message     string
	Code        string
	Operational bool
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Validation 400，请求参数错误
func Validation(message string) *AppError {
	if message == "" {
		message = "Validation failed"
	}
	return &AppError{StatusCode: http.StatusBadRequest, Message: message, Code: CodeValidation, Operational: true}
}

// NotFound 404，资源不存在
func NotFound(message string) *AppError {
	if message == "" {
		message = "Resource not found"
	}
	return &AppError{StatusCode: http.StatusNotFound, Message: message, Code: CodeNotFound, Operational: true}
}

// Internal 500，内部缺陷
func Internal(message string) *AppError {
	if message == "" {
		message = "Internal server error"
	}
	return &AppError{StatusCode: http.StatusInternalServerError, Message: message, Code: CodeInternal}
}

// Simulated 500，演示用的故障注入
func Simulated(message string) *AppError {
	if message == "" {
		message = "시뮬레이션된 에러입니다"
	}
	return &AppError{StatusCode: http.StatusInternalServerError, Message: message, Code: CodeSimulated}
}

// RateLimited 429，超出速率限制
func RateLimited() *AppError {
	return &AppError{
		StatusCode:  http.StatusTooManyRequests,
		Message:     "Rate limit exceeded",
		Code:        CodeRateLimitExceeded,
		Operational: true,
	}
}

// HTTPError 框架层面的HTTP错误（如路由未匹配）
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// NewHTTPError 创建HTTP错误，message 为空时使用标准状态文本
func NewHTTPError(statusCode int, message string) *HTTPError {
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return &HTTPError{StatusCode: statusCode, Message: message}
}

// Kind 错误分类
type Kind int

const (
	KindApp Kind = iota + 1
	KindHTTP
	KindUnhandled
)

// Classified Classify 的结果，只有与 Kind 对应的字段非空
type Classified struct {
	Kind Kind
	App  *AppError
	HTTP *HTTPError
	Err  error
}

// StatusCode 返回应答状态码
func (c Classified) StatusCode() int {
	switch c.Kind {
	case KindApp:
		return c.App.StatusCode
	case KindHTTP:
		return c.HTTP.StatusCode
	default:
		return http.StatusInternalServerError
	}
}

// Code 返回用于指标的错误码
func (c Classified) Code() string {
	switch c.Kind {
	case KindApp:
		return c.App.Code
	case KindHTTP:
		return CodeHTTPException
	default:
		return CodeInternal
	}
}

// Classify 将任意错误归入 AppError / HTTPError / 未处理 三类之一
func Classify(err error) Classified {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return Classified{Kind: KindApp, App: appErr, Err: err}
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return Classified{Kind: KindHTTP, HTTP: httpErr, Err: err}
	}
	return Classified{Kind: KindUnhandled, Err: err}
}
