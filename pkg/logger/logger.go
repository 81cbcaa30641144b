// Package logger provides the process-wide structured logger.
// A single zap instance is initialized once and shared by every
// component; accessors are safe to call before Init.
package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// instance holds the global logger. Access goes through Get so callers
// never observe a nil logger.
var instance *zap.Logger

// InitError represents logger initialization errors.
type InitError struct {
	Op  string // the operation that failed
	Err error  // the underlying error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("logger: %s failed: %v", e.Op, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Init initializes the global logger with the production JSON encoder.
func Init() error {
	return InitWithConfig(zap.NewProductionConfig())
}

// InitWithConfig initializes the global logger from a custom zap
// configuration, for tests and alternative environments.
func InitWithConfig(cfg zap.Config) error {
	log, err := cfg.Build()
	if err != nil {
		return &InitError{Op: "build", Err: err}
	}
	instance = log
	return nil
}

// Get returns the global logger, initializing a default one if Init was
// never called. It never returns nil.
func Get() *zap.Logger {
	if instance == nil {
		_ = Init()
	}
	if instance == nil {
		instance = zap.NewNop()
	}
	return instance
}

// Sync flushes buffered entries. Safe to call multiple times and with an
// uninitialized logger.
func Sync() error {
	if instance == nil {
		return nil
	}
	return instance.Sync()
}
