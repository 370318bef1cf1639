package schema

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// HealthResponse /health 应答
type HealthResponse struct {
	Status      string  `json:"status" validate:"required"`
	Timestamp   float64 `json:"timestamp" validate:"gt=0"`
	Environment string  `json:"environment" validate:"required"`
	Version     string  `json:"version" validate:"required"`
	Uptime      float64 `json:"uptime" validate:"gte=0"`
}

// ReadinessResponse /ready 应答
type ReadinessResponse struct {
	Status    string  `json:"status" validate:"required"`
	Timestamp float64 `json:"timestamp" validate:"gt=0"`
}

// User 示例用户
type User struct {
	ID    int    `json:"id" validate:"gte=1"`
	Name  string `json:"name" validate:"min=1,max=100"`
	Email string `json:"email" validate:"required"`
}

// UsersResponse /api/users 应答
type UsersResponse struct {
	Success     bool   `json:"success"`
	Data        []User `json:"data" validate:"required,dive"`
	Environment string `json:"environment" validate:"required"`
}

// StatusResponse /api/status 应答
type StatusResponse struct {
	Service     string          `json:"service" validate:"required"`
	Environment string          `json:"environment" validate:"required"`
	Timestamp   float64         `json:"timestamp" validate:"gt=0"`
	Version     string          `json:"version" validate:"required"`
	Features    map[string]bool `json:"features" validate:"required"`
}

// ErrorResponse AppError 的应答体；生产环境下 Detail 为 null
type ErrorResponse struct {
	Error   string  `json:"error" validate:"required"`
	Message string  `json:"message" validate:"required"`
	Detail  *string `json:"detail"`
}

// HTTPErrorResponse 框架HTTP错误的应答体
type HTTPErrorResponse struct {
	Error   string `json:"error" validate:"required"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

// InternalErrorResponse 未处理错误的应答体
type InternalErrorResponse struct {
	Error   string `json:"error" validate:"required"`
	Message string `json:"message"`
}

// SimpleResponse 只含 message 的应答
type SimpleResponse struct {
	Message string `json:"message" validate:"required"`
}

// ExternalService /health/external 中单个外部服务的状态
type ExternalService struct {
	Status       string      `json:"status" validate:"oneof=healthy unhealthy"`
	URL          string      `json:"url" validate:"required"`
	ResponseTime string      `json:"response_time,omitempty"`
	Data         interface{} `json:"data,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// ExternalHealthResponse /health/external 应答
type ExternalHealthResponse struct {
	Status           string                     `json:"status" validate:"oneof=healthy unhealthy"`
	Timestamp        float64                    `json:"timestamp" validate:"gt=0"`
	ExternalServices map[string]ExternalService `json:"external_services" validate:"dive"`
}

// Validate 校验应答结构
func Validate(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("response validation: %w", err)
	}
	return nil
}

// New 校验后返回 v，供处理器构造应答时使用
func New[T any](v T) (T, error) {
	if err := Validate(&v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
