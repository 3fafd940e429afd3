// Package logger is a thin wrapper around logrus, scoped the way the
// teacher's pkg/logger scopes a *logger.Entry per domain: here, per
// component ("acquire", "tracker", "webfetch", ...) instead of per
// cozy instance domain.
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Fields is an alias kept distinct from logrus.Fields so callers don't
// need to import logrus directly.
type Fields = logrus.Fields

// Logger is the interface every component logs through.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	WithFields(fields Fields) Logger
}

type entry struct {
	e *logrus.Entry
}

func (l *entry) Debugf(format string, args ...interface{}) { l.e.Debugf(format, args...) }
func (l *entry) Infof(format string, args ...interface{})  { l.e.Infof(format, args...) }
func (l *entry) Warnf(format string, args ...interface{})  { l.e.Warnf(format, args...) }
func (l *entry) Errorf(format string, args ...interface{}) { l.e.Errorf(format, args...) }
func (l *entry) WithFields(fields Fields) Logger {
	return &entry{e: l.e.WithFields(fields)}
}

var (
	root     = logrus.New()
	initOnce sync.Once
)

// Init configures the process-wide root logger. Safe to call once at
// process start; later calls are no-ops.
func Init(level logrus.Level, out io.Writer) {
	initOnce.Do(func() {
		if out == nil {
			out = os.Stderr
		}
		root.SetOutput(out)
		root.SetLevel(level)
		root.SetFormatter(&logrus.JSONFormatter{})
	})
}

// WithNamespace scopes a Logger to a component name, mirroring the
// teacher's logger.WithDomain(...).WithFields(logger.Fields{"nspace": ...}).
func WithNamespace(namespace string) Logger {
	return &entry{e: logrus.NewEntry(root).WithField("nspace", namespace)}
}

// NewForTest returns a Logger writing to the given writer at debug
// level, isolated from the process-wide root.
func NewForTest(out io.Writer) Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.DebugLevel)
	return &entry{e: logrus.NewEntry(l)}
}
