package logger

import (
	"fmt"
	"io"
	"os"
	"time"
)

// New returns a logger writing to out. A nil writer means stderr.
func New(level LogLevel, out io.Writer) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return &Logger{MinLevel: level, out: out}
}

// Discard is a logger that drops everything, used by tests.
func Discard() *Logger {
	return New(LevelError+1, io.Discard)
}

// SetLogLevel sets the minimum log level
func (l *Logger) SetLogLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.MinLevel = level
}

func (l *Logger) log(level LogLevel, component, message string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.MinLevel {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	levelStr := logLevelNames[level]
	formattedMsg := fmt.Sprintf(message, args...)

	out := l.out
	if out == nil {
		out = os.Stderr
	}

	if component != "" {
		fmt.Fprintf(out, "[%s] [%s] [%s] %s\n", timestamp, levelStr, component, formattedMsg)
	} else {
		fmt.Fprintf(out, "[%s] [%s] %s\n", timestamp, levelStr, formattedMsg)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(component, message string, args ...interface{}) {
	l.log(LevelDebug, component, message, args...)
}

// Info logs an info message
func (l *Logger) Info(component, message string, args ...interface{}) {
	l.log(LevelInfo, component, message, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(component, message string, args ...interface{}) {
	l.log(LevelWarn, component, message, args...)
}

// Error logs an error message
func (l *Logger) Error(component, message string, args ...interface{}) {
	l.log(LevelError, component, message, args...)
}

// Fatal logs an error message and exits
func (l *Logger) Fatal(component, message string, args ...interface{}) {
	l.log(LevelError, component, message, args...)
	os.Exit(1)
}
