// Package logging wraps the standard library logger with the facility and
// severity tagging the original instrument software used, without any
// color-coded formatting (explicitly out of scope for this engine).
package logging

import (
	"log"
	"os"

	"github.com/LivTel/moptop/engineerr"
)

// Level is a log severity, ordered least to most severe.
type Level int

// Severities, matching the original's LOG_DBG..LOG_ERR ordering.
const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DBG"
	case Info:
		return "INF"
	case Warn:
		return "WRN"
	case Error:
		return "ERR"
	default:
		return "???"
	}
}

// Logger tags every record with a facility and severity, the way the
// original's mop_log(ret, level, facility, fmt, ...) did, but returns nothing
// for the caller to thread through every call site: Go errors carry their
// own classification via the engineerr package.
type Logger struct {
	std      *log.Logger
	minLevel Level
}

// New creates a Logger writing to os.Stderr with the given minimum severity.
func New(minLevel Level) *Logger {
	return &Logger{
		std:      log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
		minLevel: minLevel,
	}
}

// Log writes a record for facility at level, formatted like log.Printf.
func (l *Logger) Log(level Level, facility engineerr.Facility, format string, args ...interface{}) {
	if level < l.minLevel {
		return
	}
	prefix := "[" + level.String() + "][" + string(facility) + "] "
	l.std.Printf(prefix+format, args...)
}

// Debugf logs at Debug severity.
func (l *Logger) Debugf(facility engineerr.Facility, format string, args ...interface{}) {
	l.Log(Debug, facility, format, args...)
}

// Infof logs at Info severity.
func (l *Logger) Infof(facility engineerr.Facility, format string, args ...interface{}) {
	l.Log(Info, facility, format, args...)
}

// Warnf logs at Warn severity.
func (l *Logger) Warnf(facility engineerr.Facility, format string, args ...interface{}) {
	l.Log(Warn, facility, format, args...)
}

// Errorf logs at Error severity.
func (l *Logger) Errorf(facility engineerr.Facility, format string, args ...interface{}) {
	l.Log(Error, facility, format, args...)
}

// Report logs err at a severity derived from its engineerr classification
// and returns it unchanged, so call sites can write
// `return logger.Report(err)`.
func (l *Logger) Report(err error) error {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case *engineerr.Fatal:
		l.Errorf(e.Facility, "%v", e.Err)
	case *engineerr.RetryExhausted:
		l.Errorf(e.Facility, "%v", e.Err)
	case *engineerr.Reported:
		l.Warnf(e.Facility, "%v", e.Err)
	case *engineerr.Argument:
		l.Warnf(engineerr.FacArgument, "-%s: %v", e.Flag, e.Err)
	default:
		l.Errorf(engineerr.FacRunControl, "%v", err)
	}
	return err
}
