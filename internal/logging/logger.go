// Package logging holds the uploader's logger and its HTTP adapters.
package logging

import (
	"io"
	"log"
	"os"
	"sync"
)

// Logger represents the minimal logging interface used across the project.
type Logger interface {
	Printf(format string, v ...any)
}

type stdLoggerProvider interface {
	StdLogger() *log.Logger
}

type stdLogger struct {
	base *log.Logger
}

type prefixLogger struct {
	prefix string
	next   Logger
}

type newlineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

var (
	defaultWriter   io.Writer = os.Stdout
	defaultWriterMu sync.RWMutex
)

// New returns a Logger that writes to the default writer using Go's date/time flags.
func New() Logger {
	return NewWithWriter(getDefaultWriter())
}

// NewWithWriter builds a Logger that writes to w and keeps a blank line
// before each timestamped entry.
func NewWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &stdLogger{base: log.New(&newlineWriter{w: w}, "", log.LstdFlags)}
}

// WithPrefix tags every entry written through the returned Logger with
// "[prefix] ". A nil logger stays nil.
func WithPrefix(logger Logger, prefix string) Logger {
	if logger == nil {
		return nil
	}
	if prefix == "" {
		return logger
	}
	return &prefixLogger{prefix: "[" + prefix + "] ", next: logger}
}

// Discard returns a Logger that drops everything.
func Discard() Logger {
	return &stdLogger{base: log.New(io.Discard, "", 0)}
}

// SetDefaultWriter overrides the writer used by New().
func SetDefaultWriter(w io.Writer) {
	defaultWriterMu.Lock()
	defer defaultWriterMu.Unlock()
	if w == nil {
		defaultWriter = os.Stdout
		return
	}
	defaultWriter = w
}

func getDefaultWriter() io.Writer {
	defaultWriterMu.RLock()
	defer defaultWriterMu.RUnlock()
	return defaultWriter
}

// AsStdLogger returns the underlying *log.Logger when available so packages
// like net/http can keep using their native logger type.
func AsStdLogger(logger Logger) *log.Logger {
	if logger == nil {
		return nil
	}
	if provider, ok := logger.(stdLoggerProvider); ok {
		return provider.StdLogger()
	}
	return nil
}

func (l *stdLogger) Printf(format string, v ...any) {
	if l == nil || l.base == nil {
		return
	}
	l.base.Printf(format, v...)
}

func (l *stdLogger) StdLogger() *log.Logger {
	if l == nil {
		return nil
	}
	return l.base
}

func (p *prefixLogger) Printf(format string, v ...any) {
	p.next.Printf(p.prefix+format, v...)
}

// StdLogger returns a *log.Logger sharing the wrapped logger's output that
// carries the same tag after the timestamp.
func (p *prefixLogger) StdLogger() *log.Logger {
	base := AsStdLogger(p.next)
	if base == nil {
		return nil
	}
	return log.New(base.Writer(), base.Prefix()+p.prefix, base.Flags()|log.Lmsgprefix)
}

func (w *newlineWriter) Write(p []byte) (int, error) {
	if w == nil || w.w == nil {
		return len(p), nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.w.Write([]byte("\n")); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := w.w.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
