// Package telemetrylog adapts the collector's leveled logger
// (Verbose/Info/Warning/Error, with a WithPrefix child-logger pattern) onto
// a logrus backend, so every OU/pid/plan-node-id tagged log line gets
// structured fields instead of sprintf'd text.
package telemetrylog

import (
	"github.com/sirupsen/logrus"
)

// Logger is a leveled, prefixable logger over logrus.
type Logger struct {
	Verbose bool
	Quiet   bool
	fields  logrus.Fields
	entry   *logrus.Entry
}

// New returns a root logger writing through the package-level logrus
// standard logger.
func New(verbose bool) *Logger {
	return &Logger{
		Verbose: verbose,
		fields:  logrus.Fields{},
		entry:   logrus.NewEntry(logrus.StandardLogger()),
	}
}

// WithPrefix returns a child logger carrying an additional "component"
// field, mirroring util.Logger.WithPrefix's string-prefix convention.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return l.WithFields(logrus.Fields{"component": prefix})
}

// WithFields returns a child logger carrying additional structured fields,
// e.g. ou/pid/plan_node_id on a collector log line.
func (l *Logger) WithFields(fields logrus.Fields) *Logger {
	merged := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{
		Verbose: l.Verbose,
		Quiet:   l.Quiet,
		fields:  merged,
		entry:   l.entry.WithFields(merged),
	}
}

func (l *Logger) PrintVerbose(format string, args ...interface{}) {
	if l.Quiet || !l.Verbose {
		return
	}
	l.entry.Debugf(format, args...)
}

func (l *Logger) PrintInfo(format string, args ...interface{}) {
	if l.Quiet {
		return
	}
	l.entry.Infof(format, args...)
}

func (l *Logger) PrintWarning(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *Logger) PrintError(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}
