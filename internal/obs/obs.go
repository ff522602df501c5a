// Package obs wires the runtime's structured logging onto logiface, using
// stumpy as the zero-dependency-at-runtime event backend, the way
// github.com/joeycumines/stumpy's own example configures a
// logiface.Logger[*stumpy.Event].
package obs

import (
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the concrete logger type used throughout greenio.
type Logger = logiface.Logger[*stumpy.Event]

// L is the package-level default logger, writing newline-delimited JSON to
// stderr. Callers embedding greenio in a larger binary should build their
// own Logger with stumpy.L.New and pass it down rather than relying on this
// default; it exists so every package here has something to log to out of
// the box.
var L = New(os.Stderr)

// New builds a Logger writing to w.
func New(w *os.File) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(),
		stumpy.L.WithWriter(logiface.WriterFunc[*stumpy.Event](func(e *stumpy.Event) error {
			_, err := w.Write(append(e.Bytes(), '\n'))
			return err
		})),
	)
}

// Named returns a child logger tagging every event with component=name.
func Named(parent *Logger, name string) *Logger {
	return parent.Clone().Str("component", name).Logger()
}
