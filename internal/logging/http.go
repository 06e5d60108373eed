package logging

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

const maxLoggedResponseBody = 4096

// WithHTTPLogging wraps the status server handler so every request is logged
// together with the response status and a truncated copy of the body.
func WithHTTPLogging(next http.Handler, logger Logger) http.Handler {
	if logger == nil || next == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		lrw := newLoggingResponseWriter(w)
		next.ServeHTTP(lrw, r)

		status := lrw.StatusCode()
		logger.Printf(
			"%s %s from %s -> %d %s in %s\n%s",
			r.Method,
			r.URL.RequestURI(),
			r.RemoteAddr,
			status,
			http.StatusText(status),
			time.Since(started).Round(time.Millisecond),
			lrw.LoggedBody(),
		)
	})
}

// Transport logs every outgoing request made by the signing, upload and form
// clients. Bodies are never logged since they carry file bytes and policies.
type Transport struct {
	Base   http.RoundTripper
	Logger Logger
}

// NewTransport wraps base (http.DefaultTransport when nil) with request logging.
func NewTransport(base http.RoundTripper, logger Logger) *Transport {
	return &Transport{Base: base, Logger: logger}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	started := time.Now()
	resp, err := base.RoundTrip(req)
	if t.Logger == nil {
		return resp, err
	}
	elapsed := time.Since(started).Round(time.Millisecond)
	if err != nil {
		t.Logger.Printf("%s %s failed after %s: %v", req.Method, req.URL.Redacted(), elapsed, err)
		return resp, err
	}
	t.Logger.Printf("%s %s -> %s in %s", req.Method, req.URL.Redacted(), resp.Status, elapsed)
	return resp, nil
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status    int
	buf       bytes.Buffer
	truncated bool
}

func newLoggingResponseWriter(w http.ResponseWriter) *loggingResponseWriter {
	return &loggingResponseWriter{ResponseWriter: w}
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	if remaining := maxLoggedResponseBody - lrw.buf.Len(); remaining > 0 {
		if len(b) > remaining {
			lrw.buf.Write(b[:remaining])
			lrw.truncated = true
		} else {
			lrw.buf.Write(b)
		}
	} else {
		lrw.truncated = true
	}
	return lrw.ResponseWriter.Write(b)
}

func (lrw *loggingResponseWriter) StatusCode() int {
	if lrw.status == 0 {
		return http.StatusOK
	}
	return lrw.status
}

func (lrw *loggingResponseWriter) LoggedBody() string {
	body := lrw.buf.String()
	if lrw.truncated {
		return fmt.Sprintf("%s\n-- response truncated after %d bytes --", body, maxLoggedResponseBody)
	}
	return body
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets websocket upgrades pass through the logging wrapper.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if lrw.status == 0 {
		lrw.status = http.StatusSwitchingProtocols
	}
	return hijacker.Hijack()
}
