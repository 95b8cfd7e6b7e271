// Package logging builds the zap logger used by samplecore binaries and
// adapts it to the core.Logger interface.
package logging

import (
	"fmt"
	"samplecore/internal/config"
	"samplecore/internal/core"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger from cfg.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = "json"
	if cfg.Format == "console" {
		zc.Encoding = "console"
	}
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

// CoreLogger implements core.Logger on a sugared zap logger.
type CoreLogger struct {
	sugar *zap.SugaredLogger
}

var _ core.Logger = (*CoreLogger)(nil)

// NewCoreLogger adapts l. A nil logger discards everything.
func NewCoreLogger(l *zap.Logger) *CoreLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &CoreLogger{sugar: l.Sugar()}
}

func (l *CoreLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *CoreLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *CoreLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *CoreLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }
