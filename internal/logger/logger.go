package logger

import (
	"fmt"

	"github.com/smallbiznis/geodirect/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the application logger from Config. Live environments emit
// JSON at the configured level; everywhere else the console encoder keeps
// local output readable. Every entry carries the app name and version so
// log lines stay attributable when shops share a log pipeline.
func New(appCfg config.Config) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	if !appCfg.IsLive() {
		cfg.Encoding = "console"
		cfg.Development = true
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]any{
		"app":     appCfg.AppName,
		"version": appCfg.AppVersion,
	}

	level := appCfg.LogLevel
	if level == "" {
		level = "info"
	}
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(logger)

	return logger, nil
}
