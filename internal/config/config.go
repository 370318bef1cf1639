package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Settings 服务配置，main 中构建一次后以指针传递，之后只读
type Settings struct {
	AppName     string `yaml:"app_name"`
	AppVersion  string `yaml:"app_version"`
	Description string `yaml:"description"`
	BuildDate   string `yaml:"build_date"`

	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	Environment         string   `yaml:"environment"`
	Debug               bool     `yaml:"debug"`
	ShowDocsEnvironment []string `yaml:"show_docs_environment"`

	LogLevel  string `yaml:"log_level"`
	LogOutput string `yaml:"log_output"`

	CORS CORSConfig `yaml:"cors"`

	SampleAppURL    string        `yaml:"sample_app_url"`
	ExternalTimeout time.Duration `yaml:"external_timeout"`

	RateLimit      float64 `yaml:"rate_limit"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
	GzipMinSize    int     `yaml:"gzip_min_size"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	Origins          []string `yaml:"origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	AllowMethods     []string `yaml:"allow_methods"`
	AllowHeaders     []string `yaml:"allow_headers"`
}

// 需要特殊处理的环境名
const (
	Development = "development"
	Staging     = "staging"
	Production  = "production"
)

// LoadOptions 加载配置时可选的数据源
type LoadOptions struct {
	// ConfigFile 可选的YAML配置文件
	ConfigFile string
	// EnvFile dotenv文件，不存在时忽略
	EnvFile string
	// Getenv 替代 os.Getenv（测试用）
	Getenv func(string) string
}

// Default 返回默认配置
func Default() *Settings {
	return &Settings{
		AppName:             "sample2-app",
		AppVersion:          "1.0.0",
		Description:         "DevOps 파이프라인 데모용 Go 샘플 애플리케이션",
		Host:                "0.0.0.0",
		Port:                3000,
		Environment:         Development,
		ShowDocsEnvironment: []string{Development, Staging},
		LogLevel:            "INFO",
		CORS: CORSConfig{
			Origins:          []string{"*"},
			AllowCredentials: true,
			AllowMethods:     []string{"*"},
			AllowHeaders:     []string{"*"},
		},
		SampleAppURL:    "http://sample-app:3000",
		ExternalTimeout: 5 * time.Second,
		RateLimit:       100,
		RateLimitBurst:  200,
		GzipMinSize:     1000,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Load 按 默认值 -> YAML文件 -> .env -> 环境变量 的顺序加载配置（后者覆盖前者）
func Load(opts LoadOptions) (*Settings, error) {
	cfg := Default()

	if opts.ConfigFile != "" {
		data, err := os.ReadFile(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	dotenv := map[string]string{}
	if opts.EnvFile != "" {
		values, err := godotenv.Read(opts.EnvFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read env file: %w", err)
		}
		for k, v := range values {
			dotenv[strings.ToUpper(k)] = v
		}
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	lookup := func(key string) (string, bool) {
		if v := getenv(key); v != "" {
			return v, true
		}
		if v := getenv(strings.ToLower(key)); v != "" {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok && v != ""
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Settings, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"APP_NAME":       &cfg.AppName,
		"APP_VERSION":    &cfg.AppVersion,
		"DESCRIPTION":    &cfg.Description,
		"BUILD_DATE":     &cfg.BuildDate,
		"HOST":           &cfg.Host,
		"ENVIRONMENT":    &cfg.Environment,
		"LOG_LEVEL":      &cfg.LogLevel,
		"LOG_OUTPUT":     &cfg.LogOutput,
		"SAMPLE_APP_URL": &cfg.SampleAppURL,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	lists := map[string]*[]string{
		"SHOW_DOCS_ENVIRONMENT": &cfg.ShowDocsEnvironment,
		"CORS_ORIGINS":          &cfg.CORS.Origins,
		"CORS_ALLOW_METHODS":    &cfg.CORS.AllowMethods,
		"CORS_ALLOW_HEADERS":    &cfg.CORS.AllowHeaders,
	}
	for key, dst := range lists {
		if v, ok := lookup(key); ok {
			list, err := parseList(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = list
		}
	}

	bools := map[string]*bool{
		"DEBUG":                  &cfg.Debug,
		"CORS_ALLOW_CREDENTIALS": &cfg.CORS.AllowCredentials,
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	ints := map[string]*int{
		"PORT":             &cfg.Port,
		"RATE_LIMIT_BURST": &cfg.RateLimitBurst,
		"GZIP_MIN_SIZE":    &cfg.GzipMinSize,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if v, ok := lookup("RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT: %w", err)
		}
		cfg.RateLimit = f
	}

	durations := map[string]*time.Duration{
		"EXTERNAL_TIMEOUT": &cfg.ExternalTimeout,
		"SHUTDOWN_TIMEOUT": &cfg.ShutdownTimeout,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok {
			d, err := parseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	return nil
}

// parseDuration 支持 Go 时长字符串（"5s"）或以秒为单位的数字（"5"、"2.5"）
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative duration %q", v)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// parseList 支持JSON数组或逗号分隔列表
func parseList(v string) ([]string, error) {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "[") {
		var list []string
		if err := json.Unmarshal([]byte(v), &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var list []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list, nil
}

// setDefaults 设置默认配置值
func setDefaults(cfg *Settings) {
	def := Default()
	if cfg.AppName == "" {
		cfg.AppName = def.AppName
	}
	if cfg.AppVersion == "" {
		cfg.AppVersion = def.AppVersion
	}
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.Environment == "" {
		cfg.Environment = def.Environment
	}
	cfg.Environment = strings.ToLower(cfg.Environment)
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.BuildDate == "" {
		cfg.BuildDate = strconv.FormatInt(time.Now().Unix(), 10)
	}
	if cfg.ExternalTimeout == 0 {
		cfg.ExternalTimeout = def.ExternalTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
}

// Validate 验证配置
func (s *Settings) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid port: %d", s.Port)
	}
	if s.Environment == "" {
		return errors.New("environment must not be empty")
	}
	u, err := url.Parse(s.SampleAppURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid sample_app_url: %q", s.SampleAppURL)
	}
	if s.ExternalTimeout <= 0 {
		return fmt.Errorf("external_timeout must be positive: %s", s.ExternalTimeout)
	}
	if s.RateLimit < 0 || s.RateLimitBurst < 0 {
		return errors.New("rate limit values must not be negative")
	}
	if s.RateLimit > 0 && s.RateLimitBurst == 0 {
		return errors.New("rate_limit_burst must be positive when rate_limit is set")
	}
	return nil
}

// IsProduction 是否为生产环境（隐藏错误详情）
func (s *Settings) IsProduction() bool {
	return s.Environment == Production
}

// ShowDocs 当前环境是否开放文档路由
func (s *Settings) ShowDocs() bool {
	for _, env := range s.ShowDocsEnvironment {
		if strings.EqualFold(env, s.Environment) {
			return true
		}
	}
	return false
}

// Addr 返回监听地址
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
