// Package logging wires a single structured logger used across the
// daemon. Every component takes a *logrus.Entry rather than calling the
// package-level logrus functions, so tests can inject a discard logger
// and production can attach per-device fields (sysname, driver).
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the daemon's root logger. verbose raises the level to
// Debug; otherwise the daemon logs at Info and above.
func New(verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// Discard returns a logger that drops everything, for use in tests that
// don't want log noise but still need a *logrus.Entry to pass around.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// ForDevice returns a child entry tagged with the device's identity
// (sysname and driver name).
func ForDevice(base *logrus.Logger, sysname, driver string) *logrus.Entry {
	return base.WithFields(logrus.Fields{
		"sysname": sysname,
		"driver":  driver,
	})
}

// init keeps a sane default so a package that forgets to call New still
// logs to stderr instead of silently discarding everything.
func init() {
	logrus.SetOutput(os.Stderr)
}
