// Package logging centralizes the structured, leveled logging this helper
// does locally (stderr is diagnostic-only per spec.md §6). It is separate
// from the framework's informational/error/fatal message channels: a
// message sent to the parent is logged here only where the sending
// component also logs it. See SPEC_FULL.md §2 for why logrus replaces the
// teacher's bare fmt.Fprintf(os.Stderr, ...) calls.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Base is the process-wide logger. Callers derive a component-scoped entry
// with For instead of logging through this directly.
var Base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetLevel parses and applies a level name ("debug", "info", "warn",
// "error"); invalid names are ignored, leaving the current level in place.
func SetLevel(name string) {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return
	}
	Base.SetLevel(lvl)
}

// For returns a logger entry scoped to one component (e.g. "monitor",
// "chancontrol"), matching the {interface, component, seqno} field set
// SPEC_FULL.md's ambient-stack section calls for.
func For(component string) *logrus.Entry {
	return Base.WithField("component", component)
}
