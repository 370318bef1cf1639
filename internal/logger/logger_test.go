package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sample-app/internal/config"
)

func TestNewFormatterByEnvironment(t *testing.T) {
	cfg := config.Default()

	l, err := New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &logrus.TextFormatter{}, l.Formatter)
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())

	cfg.Environment = config.Production
	cfg.LogLevel = "WARNING"
	l, err = New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "chatty"

	l, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}

func TestBoundFields(t *testing.T) {
	cfg := config.Default()
	cfg.Environment = config.Production

	l, err := New(cfg)
	require.NoError(t, err)

	var buf bytes.Buffer
	l.SetOutput(&buf)
	Bound(l, cfg).Info("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "sample2-app", entry["service"])
	assert.Equal(t, "production", entry["environment"])
}

func TestNewFileOutput(t *testing.T) {
	cfg := config.Default()
	cfg.Environment = config.Production
	cfg.LogOutput = filepath.Join(t.TempDir(), "logs", "app.log")

	l, err := New(cfg)
	require.NoError(t, err)
	l.Info("to file")

	data, err := os.ReadFile(cfg.LogOutput)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestInitInstallsPackageLogger(t *testing.T) {
	cfg := config.Default()
	cfg.Environment = config.Production
	cfg.LogOutput = filepath.Join(t.TempDir(), "app.log")

	require.NoError(t, Init(cfg))
	defer func() { Logger = nil }()

	Infof("started %s", "sample")
	Errorf("failed %d", 42)

	data, err := os.ReadFile(cfg.LogOutput)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"started sample"`)
	assert.Contains(t, string(data), `"msg":"failed 42"`)
	assert.Same(t, Logger, GetLogger())
}
