// Package logger configures the shared zap logger.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.Mutex
	root *zap.Logger
)

func build(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = true
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// Init builds the process-wide logger. Safe to call more than once;
// later calls replace the logger.
func Init(debug bool) {
	mu.Lock()
	root = build(debug)
	mu.Unlock()
}

// L returns the root logger, initializing a default one if needed.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		root = build(false)
	}
	return root
}

// Named returns a sugared logger scoped to one component,
// e.g. logger.Named("onebot").
func Named(name string) *zap.SugaredLogger {
	return L().Sugar().Named(name)
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	_ = L().Sync()
}
