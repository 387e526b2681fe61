package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/edgecomet/pdfrender/internal/common/configtypes"
)

// DynamicLogger wraps zap.Logger with per-output levels that can be switched
// at runtime: INFO during startup and shutdown, the configured level otherwise.
type DynamicLogger struct {
	*zap.Logger
	outputs    []output
	configured configtypes.LogConfig
}

// output is one enabled sink with its own level.
type output struct {
	name  string
	level zap.AtomicLevel
	// override is the output's own level setting, "" means the global level
	override func(configtypes.LogConfig) string
}

// SwitchToConfiguredLevel moves every output to its configured level
func (dl *DynamicLogger) SwitchToConfiguredLevel() {
	dl.Info("Switching logger to configured level", zap.String("level", dl.configured.Level))

	global := parseLogLevel(dl.configured.Level)
	for _, o := range dl.outputs {
		o.level.SetLevel(resolveLogLevel(o.override(dl.configured), global))
	}
}

// EnsureInfoLevelForShutdown lowers outputs above INFO so the shutdown
// sequence is visible
func (dl *DynamicLogger) EnsureInfoLevelForShutdown() {
	changed := false
	for _, o := range dl.outputs {
		if o.level.Level() > zap.InfoLevel {
			o.level.SetLevel(zap.InfoLevel)
			changed = true
		}
	}
	if changed {
		dl.Info("Switched to INFO level for shutdown visibility")
	}
}

// Level returns the current level of the named output ("console" or "file")
func (dl *DynamicLogger) Level(name string) (zapcore.Level, bool) {
	for _, o := range dl.outputs {
		if o.name == name {
			return o.level.Level(), true
		}
	}
	return zapcore.InvalidLevel, false
}

// NewLogger creates a logger with console and/or file outputs
func NewLogger(config configtypes.LogConfig) (*DynamicLogger, error) {
	return newLogger(config, config, zapcore.Lock(os.Stdout))
}

// NewLoggerWithStartupOverride starts at INFO when the configured level is
// higher; SwitchToConfiguredLevel applies the configured level later.
func NewLoggerWithStartupOverride(config configtypes.LogConfig) (*DynamicLogger, error) {
	if parseLogLevel(config.Level) <= zap.InfoLevel {
		return NewLogger(config)
	}

	startup := config
	startup.Level = configtypes.LogLevelInfo
	// Outputs with an explicit level keep it only if it is not above INFO.
	if startup.Console.Level == "" || parseLogLevel(startup.Console.Level) > zap.InfoLevel {
		startup.Console.Level = configtypes.LogLevelInfo
	}
	if startup.File.Level == "" || parseLogLevel(startup.File.Level) > zap.InfoLevel {
		startup.File.Level = configtypes.LogLevelInfo
	}

	return newLogger(startup, config, zapcore.Lock(os.Stdout))
}

// NewDefaultLogger creates a console logger for use before config is loaded
func NewDefaultLogger() (*DynamicLogger, error) {
	return NewLogger(configtypes.LogConfig{
		Level: configtypes.LogLevelDebug,
		Console: configtypes.ConsoleLogConfig{
			Enabled: true,
			Format:  configtypes.LogFormatConsole,
		},
	})
}

func newLogger(active, configured configtypes.LogConfig, stdout zapcore.WriteSyncer) (*DynamicLogger, error) {
	global := parseLogLevel(active.Level)

	var cores []zapcore.Core
	var outputs []output

	if active.Console.Enabled {
		level := zap.NewAtomicLevelAt(resolveLogLevel(active.Console.Level, global))
		cores = append(cores, zapcore.NewCore(createEncoder(active.Console.Format), stdout, level))
		outputs = append(outputs, output{
			name:     "console",
			level:    level,
			override: func(c configtypes.LogConfig) string { return c.Console.Level },
		})
	}

	if active.File.Enabled {
		if active.File.Path == "" {
			return nil, fmt.Errorf("file.path must be specified when file logging is enabled")
		}
		level := zap.NewAtomicLevelAt(resolveLogLevel(active.File.Level, global))
		cores = append(cores, zapcore.NewCore(createEncoder(active.File.Format), createFileWriter(active.File.Path, active.File.Rotation), level))
		outputs = append(outputs, output{
			name:     "file",
			level:    level,
			override: func(c configtypes.LogConfig) string { return c.File.Level },
		})
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one log output (console or file) must be enabled")
	}

	return &DynamicLogger{
		Logger:     zap.New(zapcore.NewTee(cores...)),
		outputs:    outputs,
		configured: configured,
	}, nil
}

// parseLogLevel maps a config level to zap, defaulting to INFO
func parseLogLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil || level == "" {
		return zap.InfoLevel
	}
	return l
}

// resolveLogLevel uses the output's own level when set, the global one otherwise
func resolveLogLevel(outputLevel string, global zapcore.Level) zapcore.Level {
	if outputLevel != "" {
		return parseLogLevel(outputLevel)
	}
	return global
}

func createEncoder(format string) zapcore.Encoder {
	if format == configtypes.LogFormatJSON {
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	if format == configtypes.LogFormatText {
		// Plain text without color codes (for files)
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// createFileWriter rotates through lumberjack
func createFileWriter(path string, rotation configtypes.RotationConfig) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSize,
		MaxAge:     rotation.MaxAge,
		MaxBackups: rotation.MaxBackups,
		Compress:   rotation.Compress,
	})
}
