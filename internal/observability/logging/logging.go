package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the process logger.
type Options struct {
	Level       string
	Development bool
}

// New builds a zap logger. Unknown levels are rejected rather than silently downgraded.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if value := strings.TrimSpace(opts.Level); value != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(value))); err != nil {
			return nil, fmt.Errorf("logging: invalid level %q", opts.Level)
		}
	}
	cfg := zap.NewProductionConfig()
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// OrNop returns logger, or a no-op logger when nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
