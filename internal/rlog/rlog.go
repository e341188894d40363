// Package rlog wires the module's structured logging.
package rlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Base is the process-level logger. Components derive a scoped logger from
// it with For instead of writing to the global zerolog.Logger directly.
var Base = New(os.Stderr, false)

// New builds a logger writing to w. When pretty is true it uses zerolog's
// console writer (colorized, human-readable); otherwise it emits line-delimited
// JSON suitable for log aggregation.
func New(w io.Writer, pretty bool) zerolog.Logger {
	var out io.Writer = w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// For returns a logger scoped to a named component, e.g. For("kdtree").
func For(component string) zerolog.Logger {
	return Base.With().Str("component", component).Logger()
}

// ForSession returns a logger scoped to a component and a session id.
func ForSession(component, sessionID string) zerolog.Logger {
	return Base.With().Str("component", component).Str("session", sessionID).Logger()
}
