// Package logger wraps logrus with the field conventions used across
// indexnode's components (component, deployment, data_source, block).
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Logger (or Entry) so call sites can chain With*
// helpers without caring which they started from.
type Logger struct {
	*logrus.Entry
}

// Config controls level and format the way the teacher's LoggingConfig
// does; output always goes to stderr.
type Config struct {
	Level  string
	Format string
}

// New builds a root logger from Config.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	l.SetOutput(os.Stderr)

	return &Logger{Entry: logrus.NewEntry(l)}
}

// NewDefault builds an info-level, text-formatted logger scoped to component.
func NewDefault(component string) *Logger {
	return New(Config{Level: "info", Format: "text"}).Component(component)
}

// Component returns a child logger tagged with the given component name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{Entry: l.Entry.WithField("component", name)}
}

// Deployment returns a child logger tagged with a deployment id.
func (l *Logger) Deployment(id string) *Logger {
	return &Logger{Entry: l.Entry.WithField("deployment", id)}
}

// WithError returns a child logger carrying the error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Entry: l.Entry.WithError(err)}
}

// WithFields returns a child logger carrying the given fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return &Logger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}
