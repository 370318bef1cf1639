package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BuildInfo app_info 指标的标签值
type BuildInfo struct {
	Version     string
	Environment string
	BuildDate   string
}

// Metrics 指标集合，所有指标注册在自有的 Registry 上
type Metrics struct {
	registry *prometheus.Registry

	// HTTP请求指标
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ErrorsTotal       *prometheus.CounterVec
	ConnectionsActive prometheus.Gauge

	// 上游服务指标
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec

	// 业务指标
	UserOperationsTotal *prometheus.CounterVec

	// 速率限制指标
	RateLimitRequestsTotal *prometheus.CounterVec

	// 应用信息
	AppInfo   *prometheus.GaugeVec
	AppUptime prometheus.Gauge

	startTime time.Time
}

// RequestBuckets http_request_duration_seconds 的分桶（秒）
var RequestBuckets = []float64{0.1, 0.5, 1, 2, 5, 10}

// New 创建指标集合并注册 Go/进程 采集器
func New(info BuildInfo) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "총 HTTP 요청 수",
			},
			[]string{"method", "route", "status_code"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP 요청 처리 시간 (초)",
				Buckets: RequestBuckets,
			},
			[]string{"method", "route", "status_code"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_errors_total",
				Help: "오류 응답 수",
			},
			[]string{"method", "route", "status_code", "error_code"},
		),

		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "http_connections_active",
			Help: "현재 활성 HTTP 연결 수",
		}),

		UpstreamRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upstream_requests_total",
				Help: "외부 서비스 요청 수",
			},
			[]string{"service", "status"},
		),

		UpstreamRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "upstream_request_duration_seconds",
				Help:    "외부 서비스 요청 시간 (초)",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),

		UserOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "user_operations_total",
				Help: "사용자 작업 총 수",
			},
			[]string{"operation", "status"},
		),

		RateLimitRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_requests_total",
				Help: "속도 제한 검사 수",
			},
			[]string{"result"}, // allowed, denied
		),

		AppInfo: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "app_info",
				Help: "애플리케이션 정보",
			},
			[]string{"version", "environment", "build_date"},
		),

		AppUptime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "애플리케이션 실행 시간 (초)",
		}),

		startTime: time.Now(),
	}

	m.AppInfo.WithLabelValues(info.Version, info.Environment, info.BuildDate).Set(1)
	return m
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 以 Prometheus 文本格式输出指标
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// RecordHTTPRequest 记录HTTP请求指标；标签错误只返回，不会 panic
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) error {
	status := strconv.Itoa(statusCode)

	counter, err := m.RequestsTotal.GetMetricWithLabelValues(method, route, status)
	if err != nil {
		return err
	}
	observer, err := m.RequestDuration.GetMetricWithLabelValues(method, route, status)
	if err != nil {
		return err
	}

	counter.Inc()
	observer.Observe(duration.Seconds())
	return nil
}

// RecordError 记录错误响应
func (m *Metrics) RecordError(method, route string, statusCode int, errorCode string) error {
	counter, err := m.ErrorsTotal.GetMetricWithLabelValues(method, route, strconv.Itoa(statusCode), errorCode)
	if err != nil {
		return err
	}
	counter.Inc()
	return nil
}

// RecordUpstreamRequest 记录上游请求指标
func (m *Metrics) RecordUpstreamRequest(service string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	m.UpstreamRequestsTotal.WithLabelValues(service, status).Inc()
	m.UpstreamRequestDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordUserOperation 记录用户操作
func (m *Metrics) RecordUserOperation(operation, status string) {
	m.UserOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordRateLimit 记录速率限制指标
func (m *Metrics) RecordRateLimit(allowed bool) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.RateLimitRequestsTotal.WithLabelValues(result).Inc()
}

// IncrementActiveConnections 增加活跃连接数
func (m *Metrics) IncrementActiveConnections() {
	m.ConnectionsActive.Inc()
}

// DecrementActiveConnections 减少活跃连接数
func (m *Metrics) DecrementActiveConnections() {
	m.ConnectionsActive.Dec()
}

// UpdateSystemMetrics 更新运行时间
func (m *Metrics) UpdateSystemMetrics() {
	m.AppUptime.Set(time.Since(m.startTime).Seconds())
}
