// Package log provides gameNet's logger construction helper, used by
// cmd/gamenet-endpoint, built the way the teacher's main.go constructs its
// zap logger (spec.md's ambient logging stack; see SPEC_FULL.md §4.8).
package log

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/duskforge/gamenet/internal/gamenet/config"
)

// New builds a zap.Logger from a LogConfig: "console" format uses a
// human-readable development encoder, anything else (including the
// default "json") uses the production JSON encoder.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("gamenet/log: invalid level %q: %w", cfg.Level, err)
		}
	}

	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("gamenet/log: build logger: %w", err)
	}
	return logger, nil
}
