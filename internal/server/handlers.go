package server

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"sample-app/internal/apperror"
	"sample-app/internal/schema"
)

// 示例用户数据
var sampleUsers = []schema.User{
	{ID: 1, Name: "홍길동", Email: "hong@example.com"},
	{ID: 2, Name: "김철수", Email: "kim@example.com"},
	{ID: 3, Name: "이영희", Email: "lee@example.com"},
}

const (
	minUsersDelay = 10 * time.Millisecond
	maxUsersDelay = 100 * time.Millisecond

	// 随机值超过该阈值时 /api/error 返回错误
	errorThreshold = 0.7
)

// handlerFunc 处理器返回应答或错误，错误交给错误中间件统一处理
type handlerFunc func(c *gin.Context) (interface{}, error)

// response 需要非 200 状态码的应答
type response struct {
	status int
	body   interface{}
}

func (s *Server) handle(h handlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := h(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		if r, ok := v.(response); ok {
			c.JSON(r.status, r.body)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func (s *Server) timestamp() float64 {
	return float64(s.clock().UnixNano()) / float64(time.Second)
}

// healthHandler 健康检查；uptime 沿用当前时间戳
func (s *Server) healthHandler(c *gin.Context) (interface{}, error) {
	now := s.timestamp()
	return schema.New(schema.HealthResponse{
		Status:      "healthy",
		Timestamp:   now,
		Environment: s.config.Environment,
		Version:     s.config.AppVersion,
		Uptime:      now,
	})
}

func (s *Server) readyHandler(c *gin.Context) (interface{}, error) {
	return schema.New(schema.ReadinessResponse{
		Status:    "ready",
		Timestamp: s.timestamp(),
	})
}

// externalHealthHandler 检查外部依赖，任一失败时返回 503
func (s *Server) externalHealthHandler(c *gin.Context) (interface{}, error) {
	report := s.systemChecker.CheckHealth(c.Request.Context())

	services := make(map[string]schema.ExternalService, len(report.Results))
	for name, result := range report.Results {
		url := report.Checkers[name].URL()
		s.metrics.RecordUpstreamRequest(name, result.Healthy, result.Duration)

		if result.Healthy {
			services[name] = schema.ExternalService{
				Status:       "healthy",
				URL:          url,
				ResponseTime: result.ResponseTime,
				Data:         result.Data,
			}
			continue
		}

		s.log.WithFields(logrus.Fields{
			"service": name,
			"url":     url,
			"error":   result.Err.Error(),
		}).Error("External health check failed")

		services[name] = schema.ExternalService{
			Status: "unhealthy",
			URL:    url,
			Error:  result.Err.Error(),
		}
	}

	status := "healthy"
	if !report.Healthy {
		status = "unhealthy"
	}

	resp, err := schema.New(schema.ExternalHealthResponse{
		Status:           status,
		Timestamp:        s.timestamp(),
		ExternalServices: services,
	})
	if err != nil {
		return nil, err
	}

	if !report.Healthy {
		return response{status: http.StatusServiceUnavailable, body: resp}, nil
	}
	return resp, nil
}

// usersHandler 模拟 10-100ms 的处理延迟后返回固定用户列表
func (s *Server) usersHandler(c *gin.Context) (interface{}, error) {
	delay := minUsersDelay + time.Duration(s.random()*float64(maxUsersDelay-minUsersDelay))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-c.Request.Context().Done():
		s.metrics.RecordUserOperation("list", "cancelled")
		return nil, fmt.Errorf("list users: %w", c.Request.Context().Err())
	}

	users := make([]schema.User, len(sampleUsers))
	copy(users, sampleUsers)

	resp, err := schema.New(schema.UsersResponse{
		Success:     true,
		Data:        users,
		Environment: s.config.Environment,
	})
	if err != nil {
		s.metrics.RecordUserOperation("list", "error")
		return nil, err
	}

	s.metrics.RecordUserOperation("list", "success")
	return resp, nil
}

func (s *Server) statusHandler(c *gin.Context) (interface{}, error) {
	return schema.New(schema.StatusResponse{
		Service:     s.config.AppName,
		Environment: s.config.Environment,
		Timestamp:   s.timestamp(),
		Version:     s.config.AppVersion,
		Features: map[string]bool{
			"monitoring": true,
			"logging":    true,
			"security":   true,
		},
	})
}

// errorHandler 约 30% 的请求返回模拟错误
func (s *Server) errorHandler(c *gin.Context) (interface{}, error) {
	if s.random() > errorThreshold {
		s.log.Error("Simulated error occurred")
		return nil, apperror.Simulated("")
	}
	return schema.New(schema.SimpleResponse{Message: "정상 응답"})
}

// docsHandler 列出已注册的路由
func (s *Server) docsHandler(c *gin.Context) (interface{}, error) {
	routes := s.router.Routes()
	entries := make([]gin.H, 0, len(routes))
	for _, r := range routes {
		entries = append(entries, gin.H{"method": r.Method, "path": r.Path})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i]["path"].(string) < entries[j]["path"].(string)
	})

	return gin.H{
		"title":       s.config.AppName,
		"description": s.config.Description,
		"version":     s.config.AppVersion,
		"routes":      entries,
	}, nil
}
