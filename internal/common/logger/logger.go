package logger

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/edgecomet/webshot/internal/common/configtypes"
)

// DynamicLogger wraps zap.Logger with per-output levels that can change at runtime.
// The service starts at INFO so the startup banner is always visible, then drops to
// the configured level once listeners are up.
type DynamicLogger struct {
	*zap.Logger
	consoleLevel *zap.AtomicLevel
	fileLevel    *zap.AtomicLevel
	configured   configtypes.LogConfig
	closers      []io.Closer
}

// SwitchToConfiguredLevel switches logger to the originally configured level
func (dl *DynamicLogger) SwitchToConfiguredLevel() {
	globalLevel := parseLogLevel(dl.configured.Level)

	dl.Info("Switching logger to configured level", zap.String("level", dl.configured.Level))

	if dl.consoleLevel != nil {
		dl.consoleLevel.SetLevel(resolveLogLevel(dl.configured.Console.Level, globalLevel))
	}
	if dl.fileLevel != nil {
		dl.fileLevel.SetLevel(resolveLogLevel(dl.configured.File.Level, globalLevel))
	}
}

// EnsureInfoLevelForShutdown raises every output to at least INFO so the shutdown
// sequence is logged regardless of configuration.
func (dl *DynamicLogger) EnsureInfoLevelForShutdown() {
	changed := false
	for _, lvl := range []*zap.AtomicLevel{dl.consoleLevel, dl.fileLevel} {
		if lvl != nil && lvl.Level() > zap.InfoLevel {
			lvl.SetLevel(zap.InfoLevel)
			changed = true
		}
	}

	if changed {
		dl.Info("Switched to INFO level for shutdown visibility")
	}
}

// Close flushes buffered entries and closes rotating file writers
func (dl *DynamicLogger) Close() error {
	_ = dl.Sync()
	var firstErr error
	for _, c := range dl.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewLogger builds a logger from config writing to stdout and/or a rotated file
func NewLogger(config configtypes.LogConfig) (*DynamicLogger, error) {
	return newLogger(config, os.Stdout)
}

func newLogger(config configtypes.LogConfig, console zapcore.WriteSyncer) (*DynamicLogger, error) {
	globalLevel := parseLogLevel(config.Level)
	dl := &DynamicLogger{configured: config}

	var cores []zapcore.Core

	if config.Console.Enabled {
		level := zap.NewAtomicLevelAt(resolveLogLevel(config.Console.Level, globalLevel))
		dl.consoleLevel = &level
		cores = append(cores, zapcore.NewCore(createEncoder(config.Console.Format), zapcore.Lock(console), level))
	}

	if config.File.Enabled {
		if config.File.Path == "" {
			return nil, fmt.Errorf("file.path must be specified when file logging is enabled")
		}

		level := zap.NewAtomicLevelAt(resolveLogLevel(config.File.Level, globalLevel))
		dl.fileLevel = &level
		writer := newRotatingWriter(config.File.Path, config.File.Rotation)
		dl.closers = append(dl.closers, writer)
		cores = append(cores, zapcore.NewCore(createEncoder(config.File.Format), zapcore.AddSync(writer), level))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one log output (console or file) must be enabled")
	}

	dl.Logger = zap.New(zapcore.NewTee(cores...))
	return dl, nil
}

// NewLoggerWithStartupOverride creates a logger that runs at INFO while the service
// starts when the configured level is quieter. Call SwitchToConfiguredLevel afterwards.
func NewLoggerWithStartupOverride(config configtypes.LogConfig) (*DynamicLogger, error) {
	if parseLogLevel(config.Level) <= zap.InfoLevel {
		return NewLogger(config)
	}

	startup := config
	startup.Level = configtypes.LogLevelInfo
	if startup.Console.Enabled && startup.Console.Level == "" {
		startup.Console.Level = configtypes.LogLevelInfo
	}
	if startup.File.Enabled && startup.File.Level == "" {
		startup.File.Level = configtypes.LogLevelInfo
	}

	dl, err := NewLogger(startup)
	if err != nil {
		return nil, err
	}
	dl.configured = config
	return dl, nil
}

// NewDefaultLogger creates a console logger used before configuration is loaded
func NewDefaultLogger() (*DynamicLogger, error) {
	return NewLogger(configtypes.LogConfig{
		Level: configtypes.LogLevelDebug,
		Console: configtypes.ConsoleLogConfig{
			Enabled: true,
			Format:  configtypes.LogFormatConsole,
		},
	})
}

func parseLogLevel(level string) zapcore.Level {
	switch level {
	case configtypes.LogLevelDebug:
		return zap.DebugLevel
	case configtypes.LogLevelWarn:
		return zap.WarnLevel
	case configtypes.LogLevelError:
		return zap.ErrorLevel
	case configtypes.LogLevelDPanic:
		return zap.DPanicLevel
	case configtypes.LogLevelPanic:
		return zap.PanicLevel
	case configtypes.LogLevelFatal:
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}

// resolveLogLevel prefers the per-output level and falls back to the global one
func resolveLogLevel(outputLevel string, globalLevel zapcore.Level) zapcore.Level {
	if outputLevel != "" {
		return parseLogLevel(outputLevel)
	}
	return globalLevel
}

func createEncoder(format string) zapcore.Encoder {
	if format == configtypes.LogFormatJSON {
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	if format == configtypes.LogFormatText {
		// files: no ANSI colors
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func newRotatingWriter(path string, rotation configtypes.RotationConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSize,
		MaxAge:     rotation.MaxAge,
		MaxBackups: rotation.MaxBackups,
		Compress:   rotation.Compress,
	}
}
