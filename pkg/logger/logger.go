// Package logger provides logging implementations for MemU
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/memtensor/memu/pkg/interfaces"
)

// LogrusLogger implements interfaces.Logger on top of logrus
type LogrusLogger struct {
	entry *logrus.Entry
}

// Debug logs debug level messages
func (l *LogrusLogger) Debug(msg string, fields ...map[string]interface{}) {
	l.withFieldMaps(fields).Debug(msg)
}

// Info logs info level messages
func (l *LogrusLogger) Info(msg string, fields ...map[string]interface{}) {
	l.withFieldMaps(fields).Info(msg)
}

// Warn logs warning level messages
func (l *LogrusLogger) Warn(msg string, fields ...map[string]interface{}) {
	l.withFieldMaps(fields).Warn(msg)
}

// Error logs error level messages
func (l *LogrusLogger) Error(msg string, err error, fields ...map[string]interface{}) {
	entry := l.withFieldMaps(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}

// Fatal logs fatal level messages and exits
func (l *LogrusLogger) Fatal(msg string, err error, fields ...map[string]interface{}) {
	entry := l.withFieldMaps(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Fatal(msg)
}

// WithFields returns a logger with additional fields
func (l *LogrusLogger) WithFields(fields map[string]interface{}) interfaces.Logger {
	return &LogrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *LogrusLogger) withFieldMaps(fields []map[string]interface{}) *logrus.Entry {
	entry := l.entry
	for _, fieldMap := range fields {
		entry = entry.WithFields(logrus.Fields(fieldMap))
	}
	return entry
}

func newBackend(level string, out io.Writer) *logrus.Logger {
	backend := logrus.New()
	backend.SetOutput(out)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	backend.SetLevel(parsed)
	backend.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return backend
}

// NewConsoleLogger creates a logger writing to stderr at the given level
func NewConsoleLogger(level string) interfaces.Logger {
	return &LogrusLogger{entry: logrus.NewEntry(newBackend(level, os.Stderr))}
}

// NewFileLogger creates a logger appending to the given file path
func NewFileLogger(level, path string) (interfaces.Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &LogrusLogger{entry: logrus.NewEntry(newBackend(level, f))}, nil
}

// NewTestLogger creates a logger for testing
func NewTestLogger() interfaces.Logger {
	return &LogrusLogger{entry: logrus.NewEntry(newBackend("debug", io.Discard))}
}

// NewLogger creates a new logger with default settings
func NewLogger() interfaces.Logger {
	return NewConsoleLogger("info")
}
