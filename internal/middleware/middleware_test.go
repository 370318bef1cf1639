package middleware

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sample-app/internal/apperror"
	"sample-app/internal/config"
	"sample-app/internal/metrics"
	"sample-app/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	engine  *gin.Engine
	metrics *metrics.Metrics
	hook    *test.Hook
}

func newFixture(t *testing.T, production bool, extra ...Middleware) *fixture {
	t.Helper()

	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	entry := l.WithField("service", "test")
	m := metrics.New(metrics.BuildInfo{Version: "test", Environment: "test", BuildDate: "0"})

	mm := NewMiddlewareManager()
	mm.Register(NewRequestIDMiddleware())
	mm.Register(NewInstrumentMiddleware(m, entry))
	mm.Register(NewErrorMiddleware(m, entry, production))
	for _, mw := range extra {
		mm.Register(mw)
	}

	engine := gin.New()
	require.NoError(t, mm.Apply(engine, mm.Names()))

	engine.GET("/ok", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	engine.GET("/items/:id", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"id": c.Param("id")}) })
	engine.GET("/validation", func(c *gin.Context) { _ = c.Error(apperror.Validation("bad input")) })
	engine.GET("/simulated", func(c *gin.Context) { _ = c.Error(apperror.Simulated("")) })
	engine.GET("/plain", func(c *gin.Context) { _ = c.Error(errors.New("disk on fire")) })
	engine.GET("/panic", func(c *gin.Context) { panic("kaboom") })
	engine.GET("/blank", func(c *gin.Context) {
		_ = c.Error(&apperror.AppError{StatusCode: http.StatusConflict, Code: "CONFLICT", Operational: true})
	})
	engine.NoRoute(func(c *gin.Context) { _ = c.Error(apperror.NewHTTPError(http.StatusNotFound, "")) })

	return &fixture{engine: engine, metrics: m, hook: hook}
}

func (f *fixture) do(method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func findEntry(hook *test.Hook, message string) *logrus.Entry {
	for _, e := range hook.AllEntries() {
		if e.Message == message {
			return e
		}
	}
	return nil
}

func TestMiddlewareManager(t *testing.T) {
	mm := NewMiddlewareManager()
	mm.Register(NewSecurityMiddleware())
	mm.Register(NewRequestIDMiddleware())
	mm.Register(NewSecurityMiddleware())

	assert.Equal(t, []string{"security", "request_id"}, mm.Names())

	mw, ok := mm.Get("request_id")
	require.True(t, ok)
	assert.Equal(t, "request_id", mw.Name())

	_, ok = mm.Get("missing")
	assert.False(t, ok)

	_, err := mm.Chain([]string{"security", "missing"})
	assert.Error(t, err)
}

func TestInstrumentRecordsRouteTemplate(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(http.MethodGet, "/items/42", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("GET", "/items/:id", "200")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ConnectionsActive))

	entry := findEntry(f.hook, "HTTP Request")
	require.NotNil(t, entry)
	assert.Equal(t, "/items/:id", entry.Data["route"])
	assert.Equal(t, "/items/42", entry.Data["url"])
	assert.Equal(t, 200, entry.Data["status_code"])
	assert.True(t, strings.HasSuffix(entry.Data["duration_ms"].(string), "ms"))
	assert.NotEmpty(t, entry.Data["request_id"])
}

func TestUnmatchedRouteUsesRawPath(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	body := decode(t, w)
	assert.Equal(t, "HTTP_EXCEPTION", body["error"])
	assert.Equal(t, "Not Found", body["message"])
	assert.Equal(t, "/nope", body["path"])

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("GET", "/nope", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ErrorsTotal.WithLabelValues("GET", "/nope", "404", "HTTP_EXCEPTION")))
}

func TestAppErrorResponses(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(http.MethodGet, "/validation", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"VALIDATION_ERROR","message":"bad input","detail":"bad input"}`, w.Body.String())

	entry := findEntry(f.hook, "Application exception")
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, true, entry.Data["is_operational"])
	assert.Equal(t, "VALIDATION_ERROR", entry.Data["error_code"])

	f.hook.Reset()
	w = f.do(http.MethodGet, "/simulated", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	entry = findEntry(f.hook, "Application exception")
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("GET", "/simulated", "500")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ErrorsTotal.WithLabelValues("GET", "/simulated", "500", "SIMULATED_ERROR")))
}

func TestAppErrorDetailHiddenInProduction(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(http.MethodGet, "/validation", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Contains(t, body, "detail")
	assert.Nil(t, body["detail"])
}

func TestErrorBodiesAreValidated(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(http.MethodGet, "/validation", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, findEntry(f.hook, "Error response failed validation"))

	// 缺少 message 的 AppError 校验失败，但仍按原样输出
	w = f.do(http.MethodGet, "/blank", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":"CONFLICT","message":"","detail":""}`, w.Body.String())

	entry := findEntry(f.hook, "Error response failed validation")
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Contains(t, entry.Data[logrus.ErrorKey].(error).Error(), "Message")
}

func TestUnhandledErrors(t *testing.T) {
	tests := []struct {
		name       string
		production bool
		path       string
		message    string
	}{
		{"plain error", false, "/plain", "disk on fire"},
		{"plain error in production", true, "/plain", ProductionInternalMessage},
		{"panic", false, "/panic", "kaboom"},
		{"panic in production", true, "/panic", ProductionInternalMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.production)

			w := f.do(http.MethodGet, tt.path, nil)
			assert.Equal(t, http.StatusInternalServerError, w.Code)

			body := decode(t, w)
			assert.Equal(t, "INTERNAL_SERVER_ERROR", body["error"])
			assert.Equal(t, tt.message, body["message"])

			entry := findEntry(f.hook, "Unhandled exception")
			require.NotNil(t, entry)
			assert.Equal(t, logrus.ErrorLevel, entry.Level)

			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("GET", tt.path, "500")))
		})
	}
}

func TestRequestIDPropagation(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(http.MethodGet, "/ok", http.Header{RequestIDHeader: {"abc-123"}})
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	w = f.do(http.MethodGet, "/ok", nil)
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, false)
	limiter := ratelimit.NewTokenBucketLimiter(0.001, 1)

	group := f.engine.Group("/limited", NewRateLimitMiddleware(limiter, f.metrics).Handle())
	group.GET("", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/limited", nil).Code)

	w := f.do(http.MethodGet, "/limited", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", decode(t, w)["error"])

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RateLimitRequestsTotal.WithLabelValues("allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RateLimitRequestsTotal.WithLabelValues("denied")))
}

func TestCORS(t *testing.T) {
	cors := NewCORSMiddleware(config.CORSConfig{
		Origins:          []string{"*"},
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"*"},
	})
	f := newFixture(t, false, cors)

	w := f.do(http.MethodGet, "/ok", http.Header{"Origin": {"http://example.com"}})
	assert.Equal(t, "http://example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w = f.do(http.MethodOptions, "/ok", http.Header{
		"Origin":                        {"http://example.com"},
		"Access-Control-Request-Method": {"GET"},
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "GET, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
}

func TestCORSPreflightWithDefaultWildcards(t *testing.T) {
	f := newFixture(t, false, NewCORSMiddleware(config.Default().CORS))

	w := f.do(http.MethodOptions, "/ok", http.Header{
		"Origin":                         {"http://dash.local"},
		"Access-Control-Request-Method":  {"GET"},
		"Access-Control-Request-Headers": {"x-custom, content-type"},
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://dash.local", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	methods := w.Header().Get("Access-Control-Allow-Methods")
	assert.NotContains(t, methods, "*")
	for _, m := range []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"} {
		assert.Contains(t, methods, m)
	}
	assert.Equal(t, "x-custom, content-type", w.Header().Get("Access-Control-Allow-Headers"))
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	cors := NewCORSMiddleware(config.CORSConfig{Origins: []string{"http://allowed.example"}})
	f := newFixture(t, false, cors)

	w := f.do(http.MethodGet, "/ok", http.Header{"Origin": {"http://evil.example"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeaders(t *testing.T) {
	f := newFixture(t, false, NewSecurityMiddleware())

	w := f.do(http.MethodGet, "/ok", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestCompress(t *testing.T) {
	big := strings.Repeat("a", 2000)
	mux := http.NewServeMux()
	mux.HandleFunc("/big", func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, big) })
	mux.HandleFunc("/small", func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "tiny") })

	h, err := Compress(mux, 1000)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/big", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, big, string(data))

	req = httptest.NewRequest(http.MethodGet, "/small", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "tiny", w.Body.String())
}
