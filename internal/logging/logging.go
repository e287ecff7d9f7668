// Package logging wraps zap with the structured fields the pipeline's
// components attach consistently: service identity, stage, batch/record
// correlation. Every component takes a *Logger at construction time; there
// is no package-level global (the pipeline orchestrator, stage workers and
// async tracker are independent goroutines and must not share mutable
// logger state behind a singleton).
package logging

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with payee-pipeline-specific helpers.
type Logger struct {
	*zap.Logger
	serviceName string
	environment string
}

// Config holds construction options for a Logger.
type Config struct {
	Level            string
	ServiceName      string
	Environment      string
	OutputPath       string
	Format           string // "json" or "console"
	EnableCaller     bool
	EnableStacktrace bool
}

// BatchIDKey and RecordIDKey are context keys carrying correlation IDs
// through the orchestrator and stage workers.
type contextKey string

const (
	BatchIDKey  contextKey = "batch_id"
	RecordIDKey contextKey = "record_id"
)

// New creates a Logger for the given service, defaulting unset fields.
func New(serviceName string, opts ...Config) *Logger {
	cfg := Config{
		Level:            getEnv("LOG_LEVEL", "info"),
		ServiceName:      serviceName,
		Environment:      getEnv("APP_ENV", "development"),
		OutputPath:       "stdout",
		Format:           "json",
		EnableCaller:     true,
		EnableStacktrace: true,
	}
	if len(opts) > 0 {
		o := opts[0]
		if o.Level != "" {
			cfg.Level = o.Level
		}
		if o.Environment != "" {
			cfg.Environment = o.Environment
		}
		if o.OutputPath != "" {
			cfg.OutputPath = o.OutputPath
		}
		if o.Format != "" {
			cfg.Format = o.Format
		}
		cfg.EnableCaller = o.EnableCaller
		cfg.EnableStacktrace = o.EnableStacktrace
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	writer := zapcore.AddSync(os.Stdout)
	core := zapcore.NewCore(encoder, writer, level)

	var zapOpts []zap.Option
	if cfg.EnableCaller {
		zapOpts = append(zapOpts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		zapOpts = append(zapOpts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	base := zap.New(core, zapOpts...).With(
		zap.String("service", cfg.ServiceName),
		zap.String("environment", cfg.Environment),
	)

	return &Logger{Logger: base, serviceName: cfg.ServiceName, environment: cfg.Environment}
}

func (l *Logger) with(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...), serviceName: l.serviceName, environment: l.environment}
}

// WithBatch scopes the logger to a batch.
func (l *Logger) WithBatch(batchID string) *Logger {
	return l.with(zap.String("batch_id", batchID))
}

// WithRecord scopes the logger to a record within a batch.
func (l *Logger) WithRecord(batchID, recordID string) *Logger {
	return l.with(zap.String("batch_id", batchID), zap.String("record_id", recordID))
}

// WithStage scopes the logger to a pipeline stage.
func (l *Logger) WithStage(stage string) *Logger {
	return l.with(zap.String("stage", stage))
}

// WithContext pulls batch/record correlation out of ctx, if present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	out := l
	if v, ok := ctx.Value(BatchIDKey).(string); ok && v != "" {
		out = out.with(zap.String("batch_id", v))
	}
	if v, ok := ctx.Value(RecordIDKey).(string); ok && v != "" {
		out = out.with(zap.String("record_id", v))
	}
	return out
}

// ExternalCall logs a collaborator call outcome in one consistent shape.
func (l *Logger) ExternalCall(collaborator, operation string, duration time.Duration, success bool, err error) {
	fields := []zap.Field{
		zap.String("collaborator", collaborator),
		zap.String("operation", operation),
		zap.Duration("duration", duration),
		zap.Bool("success", success),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if success {
		l.Info("external call", fields...)
	} else {
		l.Warn("external call failed", fields...)
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
