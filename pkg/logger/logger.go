// Package logger provides the process-wide printf-style loggers used by
// minaplatser. Debug output is off unless enabled with SetDebug (--debug).
package logger

import (
	"io"
	"log"
	"os"
	"sync/atomic"
)

var (
	debugEnabled atomic.Bool
	infoLogger   *log.Logger
	warnLogger   *log.Logger
	errorLogger  *log.Logger
	debugLogger  *log.Logger
)

func init() {
	SetOutput(os.Stderr)
}

// SetOutput redirects every logger to w. Tests use it to capture output.
func SetOutput(w io.Writer) {
	infoLogger = log.New(w, "", log.LstdFlags)
	warnLogger = log.New(w, "[WARN] ", log.LstdFlags)
	errorLogger = log.New(w, "[ERROR] ", log.LstdFlags)
	debugLogger = log.New(w, "[DEBUG] ", log.LstdFlags|log.Lmicroseconds)
}

// SetDebug enables or disables debug logging
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugEnabled reports whether debug logging is on.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// Info logs an informational message
func Info(format string, args ...interface{}) {
	infoLogger.Printf(format, args...)
}

// Warn logs a recoverable problem
func Warn(format string, args ...interface{}) {
	warnLogger.Printf(format, args...)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	errorLogger.Printf(format, args...)
}

// Debug logs a debug message if debug logging is enabled
func Debug(format string, args ...interface{}) {
	if debugEnabled.Load() {
		debugLogger.Printf(format, args...)
	}
}

// Fatal logs an error message and exits with status 1
func Fatal(format string, args ...interface{}) {
	errorLogger.Printf(format, args...)
	os.Exit(1)
}
