package healthcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// DependencyChecker 依赖检查器接口
type DependencyChecker interface {
	Check(ctx context.Context) Result
	Name() string
	URL() string
}

// Result 单次检查结果
type Result struct {
	Healthy      bool
	ResponseTime string
	Data         interface{}
	Err          error
	Duration     time.Duration
}

// UpstreamChecker 通过 GET {baseURL}/health 检查上游服务，仅尝试一次
type UpstreamChecker struct {
	name    string
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewUpstreamChecker 创建上游检查器
func NewUpstreamChecker(name, baseURL string, timeout time.Duration) *UpstreamChecker {
	return &UpstreamChecker{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Name 返回检查器名称
func (uc *UpstreamChecker) Name() string {
	return uc.name
}

// URL 返回上游基础地址
func (uc *UpstreamChecker) URL() string {
	return uc.baseURL
}

// Check 请求上游 /health；超时、连接失败、非2xx、非JSON 均视为不健康
func (uc *UpstreamChecker) Check(ctx context.Context) Result {
	start := time.Now()
	result := uc.check(ctx)
	result.Duration = time.Since(start)
	return result
}

func (uc *UpstreamChecker) check(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uc.baseURL+"/health", nil)
	if err != nil {
		return Result{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := uc.client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{Err: fmt.Errorf("upstream returned status %d", resp.StatusCode)}
	}

	var data interface{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return Result{Err: fmt.Errorf("decode upstream body: %w", err)}
	}

	responseTime := resp.Header.Get("Response-Time")
	if responseTime == "" {
		responseTime = "unknown"
	}

	return Result{Healthy: true, ResponseTime: responseTime, Data: data}
}

// SystemHealthChecker 汇总多个依赖的检查结果
type SystemHealthChecker struct {
	dependencies map[string]DependencyChecker
	mutex        sync.RWMutex
}

// NewSystemHealthChecker 创建系统健康检查器
func NewSystemHealthChecker() *SystemHealthChecker {
	return &SystemHealthChecker{
		dependencies: make(map[string]DependencyChecker),
	}
}

// AddDependency 添加依赖检查器
func (shc *SystemHealthChecker) AddDependency(checker DependencyChecker) {
	shc.mutex.Lock()
	defer shc.mutex.Unlock()
	shc.dependencies[checker.Name()] = checker
}

// Names 返回已注册依赖名（排序后）
func (shc *SystemHealthChecker) Names() []string {
	shc.mutex.RLock()
	defer shc.mutex.RUnlock()

	names := make([]string, 0, len(shc.dependencies))
	for name := range shc.dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Report 一次汇总检查的结果
type Report struct {
	Healthy  bool
	Checkers map[string]DependencyChecker
	Results  map[string]Result
}

// CheckHealth 并发检查所有依赖，任一失败则整体不健康
func (shc *SystemHealthChecker) CheckHealth(ctx context.Context) Report {
	shc.mutex.RLock()
	dependencies := make(map[string]DependencyChecker, len(shc.dependencies))
	for name, checker := range shc.dependencies {
		dependencies[name] = checker
	}
	shc.mutex.RUnlock()

	report := Report{
		Healthy:  true,
		Checkers: dependencies,
		Results:  make(map[string]Result, len(dependencies)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, checker := range dependencies {
		wg.Add(1)
		go func(n string, c DependencyChecker) {
			defer wg.Done()
			r := c.Check(ctx)

			mu.Lock()
			report.Results[n] = r
			if !r.Healthy {
				report.Healthy = false
			}
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	return report
}
