// Package logging builds the zap loggers used across the agent.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/janani-sekar/AEAExtensions/internal/config"
)

// New builds the process logger from the [logging] section. When logHome is
// set, output is also written to logHome/aea-agent.log.
func New(cfg config.LoggingConfig, logHome string) (*zap.Logger, error) {
	return build(cfg, logHome, true)
}

// NewFileOnly is New without stderr output, for while a full-screen
// dashboard owns the terminal. Without logHome it discards everything.
func NewFileOnly(cfg config.LoggingConfig, logHome string) (*zap.Logger, error) {
	if logHome == "" {
		return zap.NewNop(), nil
	}
	return build(cfg, logHome, false)
}

func build(cfg config.LoggingConfig, logHome string, console bool) (*zap.Logger, error) {
	var zc zap.Config
	switch cfg.Format {
	case "json":
		zc = zap.NewProductionConfig()
	case "console", "":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	level, err := zapcore.ParseLevel(levelOrDefault(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = nil
	if console {
		zc.OutputPaths = []string{"stderr"}
	}
	zc.ErrorOutputPaths = []string{"stderr"}

	if logHome != "" {
		if err := os.MkdirAll(logHome, 0755); err != nil {
			return nil, fmt.Errorf("creating log dir: %w", err)
		}
		zc.OutputPaths = append(zc.OutputPaths, filepath.Join(logHome, "aea-agent.log"))
	}

	return zc.Build()
}

func levelOrDefault(l string) string {
	if l == "" {
		return "info"
	}
	return l
}

// PromptLogger appends every prompt/response exchange as a JSON line.
type PromptLogger struct {
	log *zap.Logger
}

// NewPromptLogger opens logHome/prompts-<runID>.jsonl. A nil receiver is
// valid and discards everything.
func NewPromptLogger(logHome, runID string) (*PromptLogger, error) {
	if err := os.MkdirAll(logHome, 0755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	path := filepath.Join(logHome, fmt.Sprintf("prompts-%s.jsonl", runID))

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapcore.InfoLevel),
		Encoding:         "json",
		EncoderConfig:    enc,
		OutputPaths:      []string{path},
		ErrorOutputPaths: []string{"stderr"},
	}
	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return &PromptLogger{log: l}, nil
}

// Record logs one exchange with the generation service.
func (p *PromptLogger) Record(stage, prompt, response string, took time.Duration, callErr error) {
	if p == nil {
		return
	}
	fields := []zap.Field{
		zap.String("stage", stage),
		zap.String("prompt", prompt),
		zap.String("response", response),
		zap.Duration("took", took),
	}
	if callErr != nil {
		fields = append(fields, zap.Error(callErr))
	}
	p.log.Info("exchange", fields...)
}

// Close flushes the underlying file.
func (p *PromptLogger) Close() error {
	if p == nil {
		return nil
	}
	return p.log.Sync()
}
