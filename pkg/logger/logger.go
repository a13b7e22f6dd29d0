// Package logger provides structured logging for Spectrum. A process-wide
// zap logger is initialized once from configuration; extraction paths
// annotate their context with the source and operation so every log line of
// one operation carries the same identifying fields.
package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	once         sync.Once
)

type contextKey string

const (
	sourceKey    contextKey = "source"
	operationKey contextKey = "operation"
)

// Config represents logger configuration.
type Config struct {
	Level       string
	Development bool
	Encoding    string // json or console
	OutputPaths []string
}

// Init initializes the global logger. Later calls are no-ops.
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		globalLogger, err = newLogger(cfg)
	})
	return err
}

func newLogger(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	if cfg.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         cfg.Encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	return zapCfg.Build()
}

// Get returns the global logger, initializing a default JSON logger at info
// level when Init was never called.
func Get() *zap.Logger {
	if globalLogger == nil {
		if err := Init(Config{Level: "info", Encoding: "json"}); err != nil {
			globalLogger = zap.NewNop()
		}
	}
	return globalLogger
}

// WithSource annotates ctx with the source name for downstream log lines.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey, source)
}

// WithOperation annotates ctx with the operation being served.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, operationKey, operation)
}

// WithContext returns the global logger enriched with whatever identifying
// fields the context carries.
func WithContext(ctx context.Context) *zap.Logger {
	log := Get()
	if source, ok := ctx.Value(sourceKey).(string); ok {
		log = log.With(zap.String("source", source))
	}
	if operation, ok := ctx.Value(operationKey).(string); ok {
		log = log.With(zap.String("operation", operation))
	}
	return log
}

// Sync flushes any buffered log entries.
func Sync() error {
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}
