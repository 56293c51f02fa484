// Package logger provides leveled logging for the simulation server and tools.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger writes prefixed lines per level.
type Logger struct {
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
}

const flags = log.Ldate | log.Ltime | log.Lshortfile

// NewLogger logs info and warnings to stdout and errors to stderr.
func NewLogger() *Logger {
	return &Logger{
		infoLogger:  log.New(os.Stdout, "[SAND-INFO] ", flags),
		warnLogger:  log.New(os.Stdout, "[SAND-WARN] ", flags),
		errorLogger: log.New(os.Stderr, "[SAND-ERROR] ", flags),
	}
}

// NewLoggerTo sends every level to w.
func NewLoggerTo(w io.Writer) *Logger {
	return &Logger{
		infoLogger:  log.New(w, "[SAND-INFO] ", flags),
		warnLogger:  log.New(w, "[SAND-WARN] ", flags),
		errorLogger: log.New(w, "[SAND-ERROR] ", flags),
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewLoggerTo(io.Discard)
}

// Info logs informational messages.
func (l *Logger) Info(msg string) {
	l.infoLogger.Output(2, msg)
}

// Warn logs warning messages.
func (l *Logger) Warn(msg string) {
	l.warnLogger.Output(2, msg)
}

// Error logs error messages.
func (l *Logger) Error(msg string) {
	l.errorLogger.Output(2, msg)
}

func (l *Logger) Infof(format string, args ...any) {
	l.infoLogger.Output(2, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.warnLogger.Output(2, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.errorLogger.Output(2, fmt.Sprintf(format, args...))
}

// Event logs a simulation event, e.g. a grain settling or the source blocking.
func (l *Logger) Event(eventType string, actorID string, details string) {
	l.infoLogger.Output(2, fmt.Sprintf("[EVENT:%s] Actor:%s | %s", eventType, actorID, details))
}
