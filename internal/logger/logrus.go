// Package logger adapts logrus to the ports.Logger interface.
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/coproc-io/coproc/internal/ports"
	"github.com/sirupsen/logrus"
)

// levelNames maps configuration strings to logrus levels. Config
// validation works from the same set, so New only sees these.
var levelNames = map[string]logrus.Level{
	"trace": logrus.TraceLevel,
	"debug": logrus.DebugLevel,
	"info":  logrus.InfoLevel,
	"warn":  logrus.WarnLevel,
	"error": logrus.ErrorLevel,
	"fatal": logrus.FatalLevel,
	"panic": logrus.PanicLevel,
}

// formatters maps configuration strings to logrus formatters.
var formatters = map[string]func() logrus.Formatter{
	"text": func() logrus.Formatter { return &logrus.TextFormatter{FullTimestamp: true} },
	"json": func() logrus.Formatter { return &logrus.JSONFormatter{} },
}

// Logger implements ports.Logger on a logrus entry so WithFields chains
// share one underlying logger.
type Logger struct {
	entry *logrus.Entry
}

// New creates a logger for the given level and format names.
func New(level, format string) (*Logger, error) {
	lvl, ok := levelNames[level]
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	newFormatter, ok := formatters[format]
	if !ok {
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetLevel(lvl)
	base.SetFormatter(newFormatter())
	return &Logger{entry: logrus.NewEntry(base)}, nil
}

// Nop returns a logger that discards everything; used as the default
// when the embedder does not supply one.
func Nop() ports.Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	base.SetLevel(logrus.PanicLevel)
	return &Logger{entry: logrus.NewEntry(base)}
}

// log is the single dispatch path for every level.
func (l *Logger) log(level logrus.Level, msg string, fields []ports.Field) {
	l.with(fields).Log(level, msg)
}

func (l *Logger) with(fields []ports.Field) *logrus.Entry {
	e := l.entry
	for _, f := range fields {
		e = e.WithField(f.Key, f.Value)
	}
	return e
}

// Trace logs a trace message.
func (l *Logger) Trace(msg string, fields ...ports.Field) {
	l.log(logrus.TraceLevel, msg, fields)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...ports.Field) {
	l.log(logrus.DebugLevel, msg, fields)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...ports.Field) {
	l.log(logrus.InfoLevel, msg, fields)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...ports.Field) {
	l.log(logrus.WarnLevel, msg, fields)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...ports.Field) {
	l.log(logrus.ErrorLevel, msg, fields)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(msg string, fields ...ports.Field) {
	l.with(fields).Fatal(msg)
}

// WithFields returns a logger whose entries carry the given fields.
func (l *Logger) WithFields(fields ...ports.Field) ports.Logger {
	return &Logger{entry: l.with(fields)}
}
