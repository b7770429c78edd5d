// Package util provides the logging and traffic-statistics facilities
// shared across the SDK's layers. Nothing here is a process-global
// singleton: callers construct a Logger and a Stats instance and pass them
// down through constructors.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

// Logger is the leveled logging interface every layer accepts at
// construction. NopLogger and NewPtermLogger are the two implementations
// provided here.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// NopLogger discards everything. It is the default when no Logger is
// supplied, so components never need a nil check before logging.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}

// PtermLogger backs Logger with pterm's leveled logger prefixes.
type PtermLogger struct {
	prefix string
}

// NewPtermLogger returns a Logger that tags every line with prefix, e.g.
// the emitting component's name.
func NewPtermLogger(prefix string) *PtermLogger {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
	return &PtermLogger{prefix: prefix}
}

func (l *PtermLogger) format(format string, args []interface{}) string {
	msg := fmt.Sprintf(format, args...)
	if l.prefix == "" {
		return msg
	}
	return fmt.Sprintf("[%s] %s", l.prefix, msg)
}

func (l *PtermLogger) Debug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(l.format(format, args))
}

func (l *PtermLogger) Info(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(l.format(format, args))
}

func (l *PtermLogger) Warn(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(l.format(format, args))
}

func (l *PtermLogger) Error(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(l.format(format, args))
}
