// Package telemetry declares the narrow logging and metrics interfaces engine
// components depend on, so packages never import a concrete logger.
package telemetry

import "log"

// Logger exposes the logging capabilities required by engine components.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

// Printf implements Logger for LoggerFunc.
func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapLogger adapts a standard library logger to the Logger interface.
func WrapLogger(logger *log.Logger) Logger {
	return &loggerAdapter{logger: logger}
}

type loggerAdapter struct {
	logger *log.Logger
}

func (l *loggerAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

// Metrics exposes the counter primitives engine components report through.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// NopMetrics discards every measurement.
type NopMetrics struct{}

// Add implements Metrics.
func (NopMetrics) Add(string, uint64) {}

// Store implements Metrics.
func (NopMetrics) Store(string, uint64) {}
