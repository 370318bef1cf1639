package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"sample-app/internal/config"
)

const timestampFormat = "2006-01-02 15:04:05"

var Logger *logrus.Logger

// New 按环境创建日志实例：development 输出可读文本，其他环境输出JSON
func New(cfg *config.Settings) (*logrus.Logger, error) {
	l := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.Environment == config.Development {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	}

	if cfg.LogOutput == "" || cfg.LogOutput == "stdout" {
		l.SetOutput(os.Stdout)
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogOutput), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(cfg.LogOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	l.SetOutput(io.MultiWriter(os.Stdout, file))
	return l, nil
}

// Init 初始化全局日志实例
func Init(cfg *config.Settings) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	Logger = l
	return nil
}

// Bound 返回绑定了 service/environment 字段的日志条目
func Bound(l *logrus.Logger, cfg *config.Settings) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"service":     cfg.AppName,
		"environment": cfg.Environment,
	})
}

// GetLogger 获取日志实例
func GetLogger() *logrus.Logger {
	if Logger == nil {
		Logger = logrus.New()
	}
	return Logger
}

// Infof 记录格式化信息级别日志
func Infof(format string, args ...interface{}) {
	GetLogger().Infof(format, args...)
}

// Errorf 记录格式化错误级别日志
func Errorf(format string, args ...interface{}) {
	GetLogger().Errorf(format, args...)
}
