// Package logging is the ambient logger used across this module. It wraps
// logrus behind the Infof/Warnf/Errorf/Fatalf call-site convention so
// callers write "Type::method ..." messages the same way regardless of
// which backend is installed.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var std = logrus.New()

func init() {
	std.SetOutput(os.Stderr)
	std.SetLevel(logrus.InfoLevel)
}

// SetLevel adjusts the minimum severity that is emitted. Accepted values
// mirror logrus: "trace", "debug", "info", "warn", "error", "fatal".
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		std.Warnf("logging::SetLevel unrecognized level %q, leaving at %v", level, std.GetLevel())
		return
	}
	std.SetLevel(lvl)
}

func Tracef(format string, args ...interface{}) {
	std.Tracef(format, args...)
}

func Infof(format string, args ...interface{}) {
	std.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	std.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	std.Errorf(format, args...)
}

// Fatalf logs at fatal severity. It deliberately does not call os.Exit:
// library code must stay testable. cmd/schemaindexd installs the process
// exit behavior on top of this via SetExitOnFatal.
func Fatalf(format string, args ...interface{}) {
	std.Logf(logrus.FatalLevel, format, args...)
	if exitOnFatal {
		os.Exit(1)
	}
}

var exitOnFatal = false

// SetExitOnFatal is called once by cmd/schemaindexd's main to opt the
// running process into terminating on Fatalf. Library packages never
// call this.
func SetExitOnFatal(v bool) {
	exitOnFatal = v
}
