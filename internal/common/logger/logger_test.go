package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/edgecomet/pdfrender/internal/common/configtypes"
)

func consoleConfig(level string) configtypes.LogConfig {
	return configtypes.LogConfig{
		Level: level,
		Console: configtypes.ConsoleLogConfig{
			Enabled: true,
			Format:  configtypes.LogFormatJSON,
		},
	}
}

func bufferedLogger(t *testing.T, active, configured configtypes.LogConfig) (*DynamicLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	dl, err := newLogger(active, configured, zapcore.AddSync(&buf))
	require.NoError(t, err)
	return dl, &buf
}

func TestNewLogger_ConsoleRespectsLevel(t *testing.T) {
	cfg := consoleConfig(configtypes.LogLevelWarn)
	dl, buf := bufferedLogger(t, cfg, cfg)

	dl.Info("hidden")
	dl.Warn("shown", zap.String("request_id", "req-1"))

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
}

func TestNewLogger_FileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "pdf-service.log")
	cfg := configtypes.LogConfig{
		Level: configtypes.LogLevelDebug,
		File: configtypes.FileLogConfig{
			Enabled:  true,
			Path:     logPath,
			Format:   configtypes.LogFormatText,
			Rotation: configtypes.RotationConfig{MaxSize: 10, MaxAge: 7, MaxBackups: 3},
		},
	}

	dl, err := NewLogger(cfg)
	require.NoError(t, err)

	dl.Debug("render finished", zap.String("tab_id", "TAB1"))
	_ = dl.Sync()

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "render finished")
	assert.Contains(t, string(content), "DEBUG")
	assert.NotContains(t, string(content), "\x1b[", "text format must not contain color codes")
}

func TestNewLogger_Errors(t *testing.T) {
	_, err := NewLogger(configtypes.LogConfig{Level: "info"})
	assert.ErrorContains(t, err, "at least one log output")

	_, err = NewLogger(configtypes.LogConfig{
		Level: "info",
		File:  configtypes.FileLogConfig{Enabled: true},
	})
	assert.ErrorContains(t, err, "file.path must be specified")
}

func TestNewLogger_PerOutputLevels(t *testing.T) {
	cfg := configtypes.LogConfig{
		Level: configtypes.LogLevelInfo,
		Console: configtypes.ConsoleLogConfig{
			Enabled: true,
			Format:  configtypes.LogFormatConsole,
			Level:   configtypes.LogLevelError,
		},
		File: configtypes.FileLogConfig{
			Enabled: true,
			Path:    filepath.Join(t.TempDir(), "out.log"),
			Format:  configtypes.LogFormatJSON,
		},
	}

	dl, err := NewLogger(cfg)
	require.NoError(t, err)

	level, ok := dl.Level("console")
	require.True(t, ok)
	assert.Equal(t, zap.ErrorLevel, level)

	level, ok = dl.Level("file")
	require.True(t, ok)
	assert.Equal(t, zap.InfoLevel, level)

	_, ok = dl.Level("syslog")
	assert.False(t, ok)
}

func TestNewLoggerWithStartupOverride(t *testing.T) {
	cfg := consoleConfig(configtypes.LogLevelError)
	var buf bytes.Buffer

	// Mirror NewLoggerWithStartupOverride with a captured console.
	startup := cfg
	startup.Level = configtypes.LogLevelInfo
	startup.Console.Level = configtypes.LogLevelInfo
	dl, err := newLogger(startup, cfg, zapcore.AddSync(&buf))
	require.NoError(t, err)

	dl.Info("startup message")
	assert.Contains(t, buf.String(), "startup message")

	dl.SwitchToConfiguredLevel()
	level, _ := dl.Level("console")
	assert.Equal(t, zap.ErrorLevel, level)

	buf.Reset()
	dl.Info("steady state")
	assert.Empty(t, buf.String())

	dl.EnsureInfoLevelForShutdown()
	dl.Info("shutting down")
	assert.Contains(t, buf.String(), "shutting down")
}

func TestNewLoggerWithStartupOverride_Levels(t *testing.T) {
	dl, err := NewLoggerWithStartupOverride(consoleConfig(configtypes.LogLevelWarn))
	require.NoError(t, err)
	level, _ := dl.Level("console")
	assert.Equal(t, zap.InfoLevel, level)

	dl.SwitchToConfiguredLevel()
	level, _ = dl.Level("console")
	assert.Equal(t, zap.WarnLevel, level)

	dl, err = NewLoggerWithStartupOverride(consoleConfig(configtypes.LogLevelDebug))
	require.NoError(t, err)
	level, _ = dl.Level("console")
	assert.Equal(t, zap.DebugLevel, level)
}

func TestEnsureInfoLevelForShutdown_KeepsLowerLevels(t *testing.T) {
	cfg := consoleConfig(configtypes.LogLevelDebug)
	dl, _ := bufferedLogger(t, cfg, cfg)

	dl.EnsureInfoLevelForShutdown()
	level, _ := dl.Level("console")
	assert.Equal(t, zap.DebugLevel, level)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{configtypes.LogLevelDebug, zap.DebugLevel},
		{configtypes.LogLevelInfo, zap.InfoLevel},
		{configtypes.LogLevelWarn, zap.WarnLevel},
		{configtypes.LogLevelError, zap.ErrorLevel},
		{configtypes.LogLevelDPanic, zap.DPanicLevel},
		{configtypes.LogLevelFatal, zap.FatalLevel},
		{"", zap.InfoLevel},
		{"loud", zap.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.in), tt.in)
	}

	assert.Equal(t, zap.WarnLevel, resolveLogLevel("", zap.WarnLevel))
	assert.Equal(t, zap.DebugLevel, resolveLogLevel("debug", zap.WarnLevel))
}

func TestNewDefaultLogger(t *testing.T) {
	dl, err := NewDefaultLogger()
	require.NoError(t, err)
	level, ok := dl.Level("console")
	require.True(t, ok)
	assert.Equal(t, zap.DebugLevel, level)
}
