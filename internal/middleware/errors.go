package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"sample-app/internal/apperror"
	"sample-app/internal/metrics"
	"sample-app/internal/schema"
)

// ProductionInternalMessage 生产环境下未处理错误的对外消息
const ProductionInternalMessage = "서버 내부 오류가 발생했습니다"

// PanicError 从 panic 恢复得到的错误
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%v", e.Value)
}

// ErrorMiddleware 统一把处理器返回的错误映射为应答，并恢复 panic
type ErrorMiddleware struct {
	metrics    *metrics.Metrics
	log        *logrus.Entry
	production bool
}

// NewErrorMiddleware 创建错误处理中间件
func NewErrorMiddleware(m *metrics.Metrics, log *logrus.Entry, production bool) *ErrorMiddleware {
	return &ErrorMiddleware{
		metrics:    m,
		log:        log,
		production: production,
	}
}

// Name 返回中间件名称
func (e *ErrorMiddleware) Name() string {
	return "errors"
}

// Handle 处理错误
func (e *ErrorMiddleware) Handle() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				if r == http.ErrAbortHandler {
					panic(r)
				}
				err := &PanicError{Value: r, Stack: debug.Stack()}
				_ = ctx.Error(err)
				ctx.Abort()
				e.render(ctx, err)
			}
		}()

		ctx.Next()

		if len(ctx.Errors) == 0 {
			return
		}
		e.render(ctx, ctx.Errors.Last().Err)
	}
}

func (e *ErrorMiddleware) render(ctx *gin.Context, err error) {
	c := apperror.Classify(err)
	status := c.StatusCode()
	route := Route(ctx)

	entry := e.log.WithFields(logrus.Fields{
		"method":      ctx.Request.Method,
		"url":         ctx.Request.URL.String(),
		"route":       route,
		"status_code": status,
		"error_code":  c.Code(),
		"request_id":  RequestID(ctx),
	})

	if recErr := e.metrics.RecordError(ctx.Request.Method, route, status, c.Code()); recErr != nil {
		entry.WithError(recErr).Warn("Failed to record error metrics")
	}

	var body interface{}
	switch c.Kind {
	case apperror.KindApp:
		entry = entry.WithFields(logrus.Fields{
			"detail":         c.App.Message,
			"is_operational": c.App.Operational,
		})
		if c.App.Operational {
			entry.Warn("Application exception")
		} else {
			entry.Error("Application exception")
		}

		resp := schema.ErrorResponse{Error: c.App.Code, Message: c.App.Message}
		if !e.production {
			detail := c.App.Message
			resp.Detail = &detail
		}
		body = validated(entry, resp)

	case apperror.KindHTTP:
		entry.Debug("HTTP exception")
		body = validated(entry, schema.HTTPErrorResponse{
			Error:   apperror.CodeHTTPException,
			Message: c.HTTP.Message,
			Path:    ctx.Request.URL.Path,
		})

	default:
		entry = entry.WithFields(logrus.Fields{
			"error":      err.Error(),
			"error_type": errorType(err),
		})
		var pe *PanicError
		if errors.As(err, &pe) {
			entry = entry.WithField("stack", string(pe.Stack))
		}
		entry.Error("Unhandled exception")

		message := err.Error()
		if e.production {
			message = ProductionInternalMessage
		}
		body = validated(entry, schema.InternalErrorResponse{Error: apperror.CodeInternal, Message: message})
	}

	if ctx.Writer.Written() {
		return
	}
	ctx.JSON(status, body)
}

// validated 校验错误应答体；校验失败时记录日志并原样返回
func validated[T any](entry *logrus.Entry, body T) T {
	v, err := schema.New(body)
	if err != nil {
		entry.WithError(err).Warn("Error response failed validation")
		return body
	}
	return v
}

func errorType(err error) string {
	var pe *PanicError
	if errors.As(err, &pe) {
		return fmt.Sprintf("panic(%T)", pe.Value)
	}
	if u := errors.Unwrap(err); u != nil {
		return errorType(u)
	}
	return fmt.Sprintf("%T", err)
}
