package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Logger provides structured logging for the worker and server
type Logger struct {
	prefix string
	fields []interface{}
	logger *log.Logger
}

// NewLogger creates a new logger with a prefix
func NewLogger(prefix string) *Logger {
	return NewLoggerTo(os.Stdout, prefix)
}

// NewLoggerTo creates a logger writing to w
func NewLoggerTo(w io.Writer, prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		logger: log.New(w, fmt.Sprintf("[%s] ", prefix), log.LstdFlags),
	}
}

// With returns a child logger that appends keysAndValues to every line
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	fields := make([]interface{}, 0, len(l.fields)+len(keysAndValues))
	fields = append(fields, l.fields...)
	fields = append(fields, keysAndValues...)
	return &Logger{prefix: l.prefix, fields: fields, logger: l.logger}
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logWithKV("INFO", msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.logWithKV("WARN", msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.logWithKV("ERROR", msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logWithKV("DEBUG", msg, keysAndValues...)
}

func (l *Logger) logWithKV(level, msg string, keysAndValues ...interface{}) {
	var kv strings.Builder
	writeKV(&kv, l.fields)
	writeKV(&kv, keysAndValues)
	l.logger.Printf("[%s] %s%s", level, msg, kv.String())
}

func writeKV(b *strings.Builder, keysAndValues []interface{}) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
}
