// Package logger owns the process-wide zap logger. Components derive
// child loggers with a component field instead of threading logger
// instances through constructors:
//
//	log := logger.Get().With(zap.String("component", "scheduler"))
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the verbosity and output encoding of the process
// logger.
type Config struct {
	// Level is the minimum emitted level (debug/info/warn/error).
	Level string
	// Encoding is the output format, "json" or "console". Empty means
	// json.
	Encoding string
}

var (
	mu     sync.Mutex
	global *zap.Logger
)

// Init builds the process logger from configuration. The first
// successful call wins; later calls validate their config but cannot
// reconfigure the process underneath the CLI.
func Init(cfg Config) error {
	built, err := build(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = built
	}
	return nil
}

// Get returns the process logger. Before Init has run it installs an
// info-level JSON default, so library consumers and tests never need
// explicit initialization.
func Get() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		built, err := build(Config{Level: "info"})
		if err != nil {
			built = zap.NewNop()
		}
		global = built
	}
	return global
}

// Sync flushes buffered entries. Call it on shutdown; sync failures on
// terminal outputs are expected and ignored.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if global != nil {
		_ = global.Sync()
	}
}

func build(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "json"
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.MessageKey = "msg"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder
	if encoding == "console" {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	// Logs go to stderr so extraction output on stdout stays parseable.
	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		EncoderConfig:    enc,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return zcfg.Build()
}
