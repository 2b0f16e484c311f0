package logger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration
type Config struct {
	// Level is one of "debug", "info", "warn", "error"
	Level string

	// Format is "json" or "console"
	Format string

	// Development enables stack traces on warnings and colored levels
	Development bool

	// OutputPaths defaults to stdout
	OutputPaths []string

	// Fields are attached to every entry, e.g. the network id
	Fields map[string]interface{}
}

type contextKey struct{}

var loggerKey = contextKey{}

// New builds the process logger from level and format strings
func New(level, format string) (*zap.Logger, error) {
	return NewWithConfig(&Config{Level: level, Format: format, Development: format == "console"})
}

// NewWithConfig creates a logger with the specified configuration
func NewWithConfig(cfg *Config) (*zap.Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	levelText := cfg.Level
	if levelText == "" {
		levelText = "info"
	}
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(levelText)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", levelText, err)
	}

	encoding := cfg.Format
	switch encoding {
	case "":
		encoding = "json"
	case "json", "console":
	default:
		return nil, fmt.Errorf("invalid log format %q", encoding)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       cfg.Development,
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		InitialFields:     cfg.Fields,
		DisableStacktrace: !cfg.Development,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// WithLogger returns a new context with the given logger attached
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from the context, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return zap.NewNop()
	}
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return zap.NewNop()
}

// WithComponent returns a named logger with a "component" field
func WithComponent(logger *zap.Logger, component string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.Named(component).With(zap.String("component", component))
}

// ForTransaction scopes a logger to one transaction
func ForTransaction(logger *zap.Logger, networkID uint64, hash string) *zap.Logger {
	return logger.With(zap.Uint64("network_id", networkID), zap.String("tx", hash))
}
