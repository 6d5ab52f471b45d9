package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls how the process logger is built
type Config struct {
	Level    string // debug, info, warn, error
	Mode     string // production, development
	Encoding string // json, console
}

// New builds a zap logger from Config
func New(cfg Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Mode == "production" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	if cfg.Encoding != "" {
		zcfg.Encoding = cfg.Encoding
	}
	if zcfg.Encoding == "json" {
		zcfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	}
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return l, nil
}
