// internal/logging/logger.go
package logging

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log levels
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Log formats
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Context keys
type contextKey string

var (
	ContextKeyRequestID = contextKey("request_id")
	ContextKeyPath      = contextKey("path")
)

// LoggerConfig configures a logger
type LoggerConfig struct {
	Level  string    `yaml:"level" json:"level"`
	Format string    `yaml:"format" json:"format"`
	Output io.Writer `yaml:"-" json:"-"`
}

// Validate checks configuration
func (c *LoggerConfig) Validate() error {
	validLevels := map[string]bool{
		LevelDebug: true, LevelInfo: true, LevelWarn: true, LevelError: true, "": true,
	}
	if !validLevels[c.Level] {
		return fmt.Errorf("logging: invalid level: %s", c.Level)
	}
	validFormats := map[string]bool{FormatJSON: true, FormatConsole: true, "": true}
	if !validFormats[c.Format] {
		return fmt.Errorf("logging: invalid format: %s", c.Format)
	}
	return nil
}

// ApplyDefaults fills in default values
func (c *LoggerConfig) ApplyDefaults() {
	if c.Level == "" {
		c.Level = LevelInfo
	}
	if c.Format == "" {
		c.Format = FormatJSON
	}
	if c.Output == nil {
		c.Output = os.Stderr
	}
}

func zapLevel(level string) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a zap logger from config
func New(config *LoggerConfig) (*zap.Logger, error) {
	if config == nil {
		config = &LoggerConfig{}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.ApplyDefaults()

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if config.Format == FormatConsole {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(config.Output), zapLevel(config.Level))
	return zap.New(core, zap.AddCaller()), nil
}

// WithRequestID stores a request id in ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, id)
}

// WithPath stores the container path being worked on in ctx
func WithPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, ContextKeyPath, path)
}

// FromContext returns logger enriched with the fields stored in ctx
func FromContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ctx == nil {
		return logger
	}

	var fields []zap.Field
	if v, ok := ctx.Value(ContextKeyRequestID).(string); ok && v != "" {
		fields = append(fields, zap.String("request_id", v))
	}
	if v, ok := ctx.Value(ContextKeyPath).(string); ok && v != "" {
		fields = append(fields, zap.String("path", v))
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
