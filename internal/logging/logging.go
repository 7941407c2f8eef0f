// Package logging builds the daemon's logrus logger and the span-style
// trace wrapper used around public operations.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// New returns a text logger writing to stdout at the named level.
// Unknown level names are an error; an empty name means info.
func New(level string) (*logrus.Logger, error) {
	lvl := logrus.InfoLevel
	if level != "" {
		parsed, err := logrus.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, errors.Wrapf(err, "logging: level %q", level)
		}
		lvl = parsed
	}
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l, nil
}

// Component returns an entry tagged with the component name.
func Component(l *logrus.Logger, name string) *logrus.Entry {
	return l.WithField("component", name)
}

// Trace runs fn inside a span: a start line, a finish line with the
// duration, and the error (if any) logged at warn level. The error is
// returned unchanged.
func Trace(log *logrus.Entry, op string, fn func() error) error {
	span := log.WithFields(logrus.Fields{
		"op":   op,
		"span": uuid.NewString()[:8],
	})
	start := time.Now()
	span.Debug("begin")
	err := fn()
	done := span.WithField("took", time.Since(start).Round(time.Microsecond))
	if err != nil {
		done.WithError(err).Warn("failed")
		return err
	}
	done.Debug("end")
	return nil
}

// Event logs an inbound event (signal, callback) at debug level.
func Event(log *logrus.Entry, name string, fields logrus.Fields) {
	log.WithField("event", name).WithFields(fields).Debug("event")
}
