package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"sample-app/internal/apperror"
	"sample-app/internal/config"
	"sample-app/internal/metrics"
	"sample-app/internal/ratelimit"
)

// RequestIDHeader 请求ID头
const RequestIDHeader = "X-Request-Id"

const requestIDKey = "request_id"

// Middleware 中间件接口
type Middleware interface {
	Handle() gin.HandlerFunc
	Name() string
}

// Route 返回匹配的路由模板，未匹配时退回原始路径
func Route(ctx *gin.Context) string {
	if route := ctx.FullPath(); route != "" {
		return route
	}
	return ctx.Request.URL.Path
}

// RequestID 返回当前请求ID
func RequestID(ctx *gin.Context) string {
	return ctx.GetString(requestIDKey)
}

// CORSMiddleware 跨域中间件
type CORSMiddleware struct {
	allowOrigins     []string
	allowMethods     []string
	allowHeaders     []string
	exposeHeaders    []string
	allowCredentials bool
	maxAge           time.Duration
}

// NewCORSMiddleware 按配置创建CORS中间件
func NewCORSMiddleware(cfg config.CORSConfig) *CORSMiddleware {
	return &CORSMiddleware{
		allowOrigins:     cfg.Origins,
		allowMethods:     cfg.AllowMethods,
		allowHeaders:     cfg.AllowHeaders,
		exposeHeaders:    []string{RequestIDHeader},
		allowCredentials: cfg.AllowCredentials,
		maxAge:           10 * time.Minute,
	}
}

// Name 返回中间件名称
func (c *CORSMiddleware) Name() string {
	return "cors"
}

func (c *CORSMiddleware) allowed(origin string) (string, bool) {
	for _, allowedOrigin := range c.allowOrigins {
		if allowedOrigin == origin {
			return origin, true
		}
		if allowedOrigin == "*" {
			// 允许携带凭证时不能返回 "*"，回显请求来源
			if c.allowCredentials {
				return origin, true
			}
			return "*", true
		}
	}
	return "", false
}

// 配置为 "*" 时预检应答展开的方法列表
var corsAllMethods = []string{
	http.MethodDelete, http.MethodGet, http.MethodHead, http.MethodOptions,
	http.MethodPatch, http.MethodPost, http.MethodPut,
}

func containsWildcard(values []string) bool {
	for _, v := range values {
		if v == "*" {
			return true
		}
	}
	return false
}

// preflightMethods 配置为 "*" 时展开为具体方法列表
func (c *CORSMiddleware) preflightMethods() string {
	if containsWildcard(c.allowMethods) {
		return strings.Join(corsAllMethods, ", ")
	}
	return strings.Join(c.allowMethods, ", ")
}

// preflightHeaders 配置为 "*" 时回显请求的头部
func (c *CORSMiddleware) preflightHeaders(requested string) string {
	if containsWildcard(c.allowHeaders) {
		return requested
	}
	return strings.Join(c.allowHeaders, ", ")
}

// Handle 处理CORS
func (c *CORSMiddleware) Handle() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		origin := ctx.GetHeader("Origin")
		if origin == "" {
			ctx.Next()
			return
		}

		allowOrigin, ok := c.allowed(origin)
		if ok {
			ctx.Header("Access-Control-Allow-Origin", allowOrigin)
			ctx.Header("Vary", "Origin")

			if c.allowCredentials {
				ctx.Header("Access-Control-Allow-Credentials", "true")
			}
			if len(c.exposeHeaders) > 0 {
				ctx.Header("Access-Control-Expose-Headers", strings.Join(c.exposeHeaders, ", "))
			}
		}

		// 处理预检请求
		if ctx.Request.Method == http.MethodOptions && ctx.GetHeader("Access-Control-Request-Method") != "" {
			if ok {
				if methods := c.preflightMethods(); methods != "" {
					ctx.Header("Access-Control-Allow-Methods", methods)
				}
				if headers := c.preflightHeaders(ctx.GetHeader("Access-Control-Request-Headers")); headers != "" {
					ctx.Header("Access-Control-Allow-Headers", headers)
				}
				if c.maxAge > 0 {
					ctx.Header("Access-Control-Max-Age", fmt.Sprintf("%.0f", c.maxAge.Seconds()))
				}
			}
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}

		ctx.Next()
	}
}

// SecurityMiddleware 安全中间件
type SecurityMiddleware struct {
	contentSecurityPolicy   string
	frameOptions            string
	contentTypeOptions      string
	referrerPolicy          string
	strictTransportSecurity string
}

// NewSecurityMiddleware 创建安全中间件
func NewSecurityMiddleware() *SecurityMiddleware {
	return &SecurityMiddleware{
		contentSecurityPolicy:   "default-src 'self'",
		frameOptions:            "DENY",
		contentTypeOptions:      "nosniff",
		referrerPolicy:          "strict-origin-when-cross-origin",
		strictTransportSecurity: "max-age=31536000; includeSubDomains",
	}
}

// Name 返回中间件名称
func (s *SecurityMiddleware) Name() string {
	return "security"
}

// Handle 处理安全头部
func (s *SecurityMiddleware) Handle() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Header("Content-Security-Policy", s.contentSecurityPolicy)
		ctx.Header("X-Frame-Options", s.frameOptions)
		ctx.Header("X-Content-Type-Options", s.contentTypeOptions)
		ctx.Header("Referrer-Policy", s.referrerPolicy)

		// 只在HTTPS连接时设置HSTS
		if ctx.Request.TLS != nil {
			ctx.Header("Strict-Transport-Security", s.strictTransportSecurity)
		}

		ctx.Next()
	}
}

// RequestIDMiddleware 请求ID中间件，沿用客户端传入的ID，否则生成 UUID
type RequestIDMiddleware struct{}

// NewRequestIDMiddleware 创建请求ID中间件
func NewRequestIDMiddleware() *RequestIDMiddleware {
	return &RequestIDMiddleware{}
}

// Name 返回中间件名称
func (r *RequestIDMiddleware) Name() string {
	return "request_id"
}

// Handle 处理请求ID
func (r *RequestIDMiddleware) Handle() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		ctx.Set(requestIDKey, id)
		ctx.Header(RequestIDHeader, id)
		ctx.Next()
	}
}

// InstrumentMiddleware 指标与访问日志中间件
type InstrumentMiddleware struct {
	metrics *metrics.Metrics
	log     *logrus.Entry
}

// NewInstrumentMiddleware 创建指标与日志中间件
func NewInstrumentMiddleware(m *metrics.Metrics, log *logrus.Entry) *InstrumentMiddleware {
	return &InstrumentMiddleware{metrics: m, log: log}
}

// Name 返回中间件名称
func (i *InstrumentMiddleware) Name() string {
	return "instrument"
}

// Handle 记录请求耗时、状态并输出一条访问日志；记录失败不影响响应
func (i *InstrumentMiddleware) Handle() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		i.metrics.IncrementActiveConnections()
		defer i.metrics.DecrementActiveConnections()

		ctx.Next()

		duration := time.Since(start)
		route := Route(ctx)
		status := ctx.Writer.Status()

		if err := i.metrics.RecordHTTPRequest(ctx.Request.Method, route, status, duration); err != nil {
			i.log.WithError(err).Warn("Failed to record request metrics")
		}

		i.log.WithFields(logrus.Fields{
			"method":      ctx.Request.Method,
			"url":         ctx.Request.URL.String(),
			"route":       route,
			"status_code": status,
			"duration_ms": fmt.Sprintf("%.2fms", float64(duration.Microseconds())/1000),
			"user_agent":  ctx.Request.UserAgent(),
			"ip":          ctx.ClientIP(),
			"request_id":  RequestID(ctx),
		}).Info("HTTP Request")
	}
}

// RateLimitMiddleware 速率限制中间件
type RateLimitMiddleware struct {
	limiter ratelimit.RateLimiter
	metrics *metrics.Metrics
}

// NewRateLimitMiddleware 创建速率限制中间件
func NewRateLimitMiddleware(limiter ratelimit.RateLimiter, m *metrics.Metrics) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		metrics: m,
	}
}

// Name 返回中间件名称
func (r *RateLimitMiddleware) Name() string {
	return "rate_limit"
}

// Handle 超限时交给错误中间件输出 429
func (r *RateLimitMiddleware) Handle() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		allowed := r.limiter.Allow(ctx.ClientIP())
		r.metrics.RecordRateLimit(allowed)

		if !allowed {
			ctx.Header("Retry-After", "1")
			_ = ctx.Error(apperror.RateLimited())
			ctx.Abort()
			return
		}

		ctx.Next()
	}
}

// MiddlewareManager 中间件管理器，按注册顺序保存
type MiddlewareManager struct {
	middlewares map[string]Middleware
	order       []string
}

// NewMiddlewareManager 创建中间件管理器
func NewMiddlewareManager() *MiddlewareManager {
	return &MiddlewareManager{
		middlewares: make(map[string]Middleware),
	}
}

// Register 注册中间件
func (mm *MiddlewareManager) Register(middleware Middleware) {
	name := middleware.Name()
	if _, exists := mm.middlewares[name]; !exists {
		mm.order = append(mm.order, name)
	}
	mm.middlewares[name] = middleware
}

// Get 获取中间件
func (mm *MiddlewareManager) Get(name string) (Middleware, bool) {
	middleware, exists := mm.middlewares[name]
	return middleware, exists
}

// Names 按注册顺序返回中间件名称
func (mm *MiddlewareManager) Names() []string {
	names := make([]string, len(mm.order))
	copy(names, mm.order)
	return names
}

// Chain 按给定顺序返回处理函数
func (mm *MiddlewareManager) Chain(middlewareNames []string) ([]gin.HandlerFunc, error) {
	handlers := make([]gin.HandlerFunc, 0, len(middlewareNames))
	for _, name := range middlewareNames {
		middleware, exists := mm.middlewares[name]
		if !exists {
			return nil, fmt.Errorf("middleware %s not registered", name)
		}
		handlers = append(handlers, middleware.Handle())
	}
	return handlers, nil
}

// Apply 应用中间件到路由
func (mm *MiddlewareManager) Apply(r gin.IRoutes, middlewareNames []string) error {
	handlers, err := mm.Chain(middlewareNames)
	if err != nil {
		return err
	}
	r.Use(handlers...)
	return nil
}
