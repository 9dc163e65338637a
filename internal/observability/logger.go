package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/leslieo2/prononciation-gateway/internal/config"
)

// Logger wraps zap with a level that can change at runtime.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

func NewLogger(cfg config.LoggingConfig) (*Logger, error) {
	var zapConfig zap.Config

	if cfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	if strings.EqualFold(cfg.Format, "console") {
		zapConfig.Encoding = "console"
	} else {
		zapConfig.Encoding = "json"
	}

	if cfg.Output != "" {
		zapConfig.OutputPaths = []string{cfg.Output}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &Logger{Logger: logger, level: zapConfig.Level}, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevel()}
}

// NewLoggerFromCore builds a Logger around an existing core; the core's own
// level filter still applies.
func NewLoggerFromCore(core zapcore.Core, level zap.AtomicLevel) *Logger {
	return &Logger{Logger: zap.New(core), level: level}
}

// SetLevel changes the minimum enabled level.
func (l *Logger) SetLevel(level string) error {
	parsed, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.level.SetLevel(parsed)
	return nil
}

// Level reports the current minimum enabled level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

func (l *Logger) Sync() error {
	return l.Logger.Sync()
}
