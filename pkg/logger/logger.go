// Package logger holds the process-wide zap logger. Packages obtain child loggers with
// WithModule at construction time.
package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger = zap.NewNop()
	mu           sync.RWMutex
)

// Init configures the global logger using the provided level string and output format.
// Format "console" produces human readable lines for kiosk operators; anything else is JSON.
// Unknown levels fall back to info.
func Init(level string, format ...string) error {
	cfg := zap.NewProductionConfig()
	if len(format) > 0 && strings.EqualFold(strings.TrimSpace(format[0]), "console") {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	built, err := cfg.Build()
	if err != nil {
		return err
	}

	Replace(built)
	return nil
}

// Replace swaps the global logger and returns a function restoring the previous one.
func Replace(l *zap.Logger) func() {
	if l == nil {
		l = zap.NewNop()
	}

	mu.Lock()
	prev := globalLogger
	globalLogger = l
	mu.Unlock()

	return func() {
		mu.Lock()
		globalLogger = prev
		mu.Unlock()
	}
}

// Logger returns the configured global logger.
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()

	return globalLogger
}

// Sync flushes buffered log entries.
func Sync() error {
	return Logger().Sync()
}

// WithModule returns a child logger annotated with the module name.
func WithModule(module string) *zap.Logger {
	return Logger().With(zap.String("module", module))
}
