// Package logging provides the narrow logging seam the engine depends on.
package logging

import "log"

// Logger is the only logging surface the engine depends on.
type Logger interface {
	Printf(format string, v ...any)
}

// LogLogger wraps the standard library's log package.
type LogLogger struct{}

func NewLogLogger() Logger {
	return &LogLogger{}
}

func (l LogLogger) Printf(format string, v ...any) {
	log.Printf(format, v...)
}
