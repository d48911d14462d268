// Package logger provides structured logging for the chaos controller.
package logger

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging interface used across the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// zapLogger wraps a sugared zap logger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// Options configures logger construction.
type Options struct {
	// Level is one of: debug, info, warn, error.
	Level string

	// Format is one of: json, console.
	Format string

	// Output defaults to os.Stdout.
	Output io.Writer

	// AddCaller annotates entries with the call site.
	AddCaller bool
}

// DefaultOptions returns the production defaults.
func DefaultOptions() *Options {
	return &Options{
		Level:  "info",
		Format: "json",
		Output: os.Stdout,
	}
}

// New creates a logger from the given options.
func New(opts *Options) Logger {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "console", "text":
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(opts.Output), parseLevel(opts.Level))

	var zopts []zap.Option
	if opts.AddCaller {
		zopts = append(zopts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	return &zapLogger{sugar: zap.New(core, zopts...).Sugar()}
}

// NewDefault creates a logger with default options.
func NewDefault() Logger {
	return New(DefaultOptions())
}

// NewFromConfig creates a logger for the given level and format.
func NewFromConfig(level, format string) Logger {
	return New(&Options{
		Level:  level,
		Format: format,
	})
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *zapLogger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

func (l *zapLogger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

func (l *zapLogger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

func (l *zapLogger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}

// With returns a logger carrying the extra key-value pairs.
func (l *zapLogger) With(args ...any) Logger {
	return &zapLogger{sugar: l.sugar.With(args...)}
}

var defaultLogger Logger = NewDefault()

// SetDefault replaces the process-wide default logger.
func SetDefault(l Logger) {
	defaultLogger = l
}

// Default returns the process-wide default logger.
func Default() Logger {
	return defaultLogger
}

// Sync flushes any buffered entries on the default logger.
func Sync() {
	if zl, ok := defaultLogger.(*zapLogger); ok {
		_ = zl.sugar.Sync()
	}
}

func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }
func Info(msg string, args ...any)  { defaultLogger.Info(msg, args...) }
func Warn(msg string, args ...any)  { defaultLogger.Warn(msg, args...) }
func Error(msg string, args ...any) { defaultLogger.Error(msg, args...) }

// WithFields returns the default logger with extra fields attached.
func WithFields(fields ...any) Logger {
	return defaultLogger.With(fields...)
}
