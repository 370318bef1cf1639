package server

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"sample-app/internal/apperror"
	"sample-app/internal/config"
	"sample-app/internal/healthcheck"
	"sample-app/internal/metrics"
	"sample-app/internal/middleware"
	"sample-app/internal/ratelimit"
)

// SampleAppService 外部依赖服务名
const SampleAppService = "sample_app"

const (
	metricsInterval  = 30 * time.Second
	limiterIdleAfter = 5 * time.Minute
)

// 全局中间件的应用顺序
var globalMiddlewares = []string{"security", "cors", "request_id", "instrument", "errors"}

// Server 示例服务核心结构
type Server struct {
	config            *config.Settings
	router            *gin.Engine
	handler           http.Handler
	middlewareManager *middleware.MiddlewareManager
	rateLimiter       *ratelimit.TokenBucketLimiter
	systemChecker     *healthcheck.SystemHealthChecker
	metrics           *metrics.Metrics
	log               *logrus.Entry
	server            *http.Server

	random func() float64
	clock  func() time.Time
}

// Option 服务可选项
type Option func(*Server)

// WithRandom 替换随机数来源，返回值应位于 [0,1)
func WithRandom(fn func() float64) Option {
	return func(s *Server) { s.random = fn }
}

// WithClock 替换时钟
func WithClock(fn func() time.Time) Option {
	return func(s *Server) { s.clock = fn }
}

// WithDependency 替换或追加外部依赖检查器
func WithDependency(checker healthcheck.DependencyChecker) Option {
	return func(s *Server) { s.systemChecker.AddDependency(checker) }
}

// NewServer 创建服务实例
func NewServer(cfg *config.Settings, log *logrus.Entry, m *metrics.Metrics, opts ...Option) (*Server, error) {
	systemChecker := healthcheck.NewSystemHealthChecker()
	systemChecker.AddDependency(healthcheck.NewUpstreamChecker(SampleAppService, cfg.SampleAppURL, cfg.ExternalTimeout))

	s := &Server{
		config:            cfg,
		middlewareManager: middleware.NewMiddlewareManager(),
		systemChecker:     systemChecker,
		metrics:           m,
		log:               log,
		random:            rand.Float64,
		clock:             time.Now,
	}
	if cfg.RateLimit > 0 {
		s.rateLimiter = ratelimit.NewTokenBucketLimiter(cfg.RateLimit, cfg.RateLimitBurst)
	}

	for _, opt := range opts {
		opt(s)
	}

	s.initializeMiddlewares()

	if err := s.initializeRoutes(); err != nil {
		return nil, err
	}

	handler, err := middleware.Compress(s.router, cfg.GzipMinSize)
	if err != nil {
		return nil, err
	}
	s.handler = handler

	s.server = &http.Server{
		Addr:           cfg.Addr(),
		Handler:        handler,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	return s, nil
}

// initializeMiddlewares 注册中间件
func (s *Server) initializeMiddlewares() {
	s.middlewareManager.Register(middleware.NewSecurityMiddleware())
	s.middlewareManager.Register(middleware.NewCORSMiddleware(s.config.CORS))
	s.middlewareManager.Register(middleware.NewRequestIDMiddleware())
	s.middlewareManager.Register(middleware.NewInstrumentMiddleware(s.metrics, s.log))
	s.middlewareManager.Register(middleware.NewErrorMiddleware(s.metrics, s.log, s.config.IsProduction()))
	if s.rateLimiter != nil {
		s.middlewareManager.Register(middleware.NewRateLimitMiddleware(s.rateLimiter, s.metrics))
	}
}

// initializeRoutes 初始化路由
func (s *Server) initializeRoutes() error {
	s.router = gin.New()

	if err := s.middlewareManager.Apply(s.router, globalMiddlewares); err != nil {
		return err
	}

	// 健康检查端点
	s.router.GET("/health", s.handle(s.healthHandler))
	s.router.GET("/ready", s.handle(s.readyHandler))
	s.router.GET("/health/external", s.handle(s.externalHealthHandler))

	// 指标端点
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// 示例API
	api := s.router.Group("/api")
	if s.rateLimiter != nil {
		if err := s.middlewareManager.Apply(api, []string{"rate_limit"}); err != nil {
			return err
		}
	}
	{
		api.GET("/users", s.handle(s.usersHandler))
		api.GET("/status", s.handle(s.statusHandler))
		api.GET("/error", s.handle(s.errorHandler))
	}

	if s.config.ShowDocs() {
		s.router.GET("/docs", s.handle(s.docsHandler))
	}

	s.router.NoRoute(func(c *gin.Context) {
		_ = c.Error(apperror.NewHTTPError(http.StatusNotFound, ""))
	})

	// 路径存在但方法不匹配时返回 405
	s.router.HandleMethodNotAllowed = true
	s.router.NoMethod(func(c *gin.Context) {
		_ = c.Error(apperror.NewHTTPError(http.StatusMethodNotAllowed, ""))
	})

	return nil
}

// Handler 返回包含压缩层的完整处理器
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start 启动服务，阻塞直到服务关闭；ctx 结束时停止后台任务
func (s *Server) Start(ctx context.Context) error {
	// 定期更新系统指标并清理闲置的限流桶
	go func() {
		ticker := time.NewTicker(metricsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.metrics.UpdateSystemMetrics()
				if s.rateLimiter != nil {
					if n := s.rateLimiter.Cleanup(limiterIdleAfter); n > 0 {
						s.log.WithField("removed", n).Debug("Rate limiter buckets cleaned up")
					}
				}
			}
		}
	}()

	s.log.WithFields(logrus.Fields{
		"addr":    s.server.Addr,
		"version": s.config.AppVersion,
	}).Info("Server starting")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 优雅关闭服务
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Server shutting down")
	return s.server.Shutdown(ctx)
}
