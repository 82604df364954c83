// Package definition holds the default implementation a caller gets
// for free if it does not supply its own: the logger. The Logger shape
// below is the teacher's definition.DefaultLogger almost verbatim in
// method set, but the body now wraps logrus instead of the stdlib
// log.Logger, since logrus is the structured-logging library already
// named in this dependency lineage's go.mod.
package definition

import "github.com/sirupsen/logrus"

// Logger is implemented by anything that can receive the core's
// diagnostic output. Protocols, the scheduler, and the network
// fabric all take one at construction time.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	ToggleDebug(value bool) bool
}

// DefaultLogger is the logger used when a caller does not provide its
// own. It wraps a *logrus.Logger configured with the same "only print
// debug output when asked" behavior as the teacher's default logger.
type DefaultLogger struct {
	entry *logrus.Logger
}

// NewDefaultLogger returns a DefaultLogger writing to stderr at Info
// level, matching the teacher's default (debug off).
func NewDefaultLogger() *DefaultLogger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return &DefaultLogger{entry: l}
}

func (l *DefaultLogger) Info(v ...interface{})                 { l.entry.Info(v...) }
func (l *DefaultLogger) Infof(format string, v ...interface{})  { l.entry.Infof(format, v...) }
func (l *DefaultLogger) Warn(v ...interface{})                 { l.entry.Warn(v...) }
func (l *DefaultLogger) Warnf(format string, v ...interface{})  { l.entry.Warnf(format, v...) }
func (l *DefaultLogger) Error(v ...interface{})                { l.entry.Error(v...) }
func (l *DefaultLogger) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }

func (l *DefaultLogger) Debug(v ...interface{}) {
	l.entry.Debug(v...)
}

func (l *DefaultLogger) Debugf(format string, v ...interface{}) {
	l.entry.Debugf(format, v...)
}

// ToggleDebug switches debug-level output on or off and returns the
// new state, matching the teacher's signature.
func (l *DefaultLogger) ToggleDebug(value bool) bool {
	if value {
		l.entry.SetLevel(logrus.DebugLevel)
	} else {
		l.entry.SetLevel(logrus.InfoLevel)
	}
	return value
}
