package log

import (
	"fmt"
	"io"
)

// Logger is a minimal wrapper around an io.Writer.
type Logger struct {
	io.Writer
}

// New returns a new logger which writes to w.
func New(w io.Writer) *Logger {
	return &Logger{Writer: w}
}

// Logln logs a line.
func (l *Logger) Logln(args ...interface{}) {
	fmt.Fprintln(l, args...)
}

// Logf logs a formatted string.
func (l *Logger) Logf(f string, args ...interface{}) {
	fmt.Fprintf(l, f, args...)
}

// LogBringfln logs a formatted line, prefixed with `bring: `.
func (l *Logger) LogBringfln(format string, args ...interface{}) {
	fmt.Fprintf(l, "bring: "+format+"\n", args...)
}

// Warnf logs a formatted warning line, prefixed with `warning: `.
//
// Used for non-fatal conditions reported as warnings rather than errors: an
// alias claimed by more than one version, an unreadable or unpersisted
// metadata-cache entry, a retried download attempt, and several release
// assets matching one pattern.
func (l *Logger) Warnf(format string, args ...interface{}) {
	fmt.Fprintf(l, "warning: "+format+"\n", args...)
}

// Std is the package-level default Logger, writing to nothing until
// redirected by a caller via SetOutput. Components in this module take a
// *Logger explicitly rather than reaching for Std, but callers that don't
// care to wire one up may pass Std.
var Std = New(noopWriter{})

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

// SetOutput redirects Std to w.
func SetOutput(w io.Writer) { Std.Writer = w }
