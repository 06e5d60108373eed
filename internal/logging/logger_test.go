package logging

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func TestNewWithWriterInsertsLeadingNewline(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf)
	logger.Printf("hello %s", "world")
	got := buf.String()
	if got == "" || got[0] != '\n' {
		t.Fatalf("expected leading newline, got %q", got)
	}
	if !bytes.Contains(buf.Bytes(), []byte("hello world")) {
		t.Fatalf("expected log body to contain message, got %q", got)
	}
}

func TestSetDefaultWriterAffectsNew(t *testing.T) {
	var buf bytes.Buffer
	SetDefaultWriter(&buf)
	t.Cleanup(func() { SetDefaultWriter(os.Stdout) })
	New().Printf("captured")
	if !strings.Contains(buf.String(), "captured") {
		t.Fatalf("expected log output to be written to buffer, got %q", buf.String())
	}
}

func TestWithPrefixTagsEntries(t *testing.T) {
	var buf bytes.Buffer
	logger := WithPrefix(NewWithWriter(&buf), "adapter")
	logger.Printf("file %s signed", "a.png")
	if !strings.Contains(buf.String(), "[adapter] file a.png signed") {
		t.Fatalf("expected prefixed entry, got %q", buf.String())
	}
	std := AsStdLogger(logger)
	if std == nil {
		t.Fatalf("expected prefixed logger to expose std logger")
	}
	buf.Reset()
	std.Print("http: TLS handshake error")
	if !strings.Contains(buf.String(), "[adapter] http: TLS handshake error") {
		t.Fatalf("expected std logger to keep the prefix, got %q", buf.String())
	}
	nested := AsStdLogger(WithPrefix(logger, "status"))
	buf.Reset()
	nested.Print("x")
	if !strings.Contains(buf.String(), "[adapter] [status] x") {
		t.Fatalf("expected nested prefixes, got %q", buf.String())
	}
	if WithPrefix(nil, "x") != nil {
		t.Fatalf("expected nil logger to stay nil")
	}
}

func TestAsStdLoggerNilSafe(t *testing.T) {
	if got := AsStdLogger(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	var l *stdLogger
	if got := AsStdLogger(l); got != nil {
		t.Fatalf("expected nil for nil receiver")
	}
	l.Printf("ignore")
}

type captureLogger struct {
	entries []string
}

func (c *captureLogger) Printf(format string, args ...any) {
	c.entries = append(c.entries, fmt.Sprintf(format, args...))
}

func TestWithHTTPLoggingWrapsHandler(t *testing.T) {
	logger := &captureLogger{}
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("payload"))
	})
	handler := WithHTTPLogging(base, logger)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if len(logger.entries) != 1 || !strings.Contains(logger.entries[0], "GET /status") {
		t.Fatalf("unexpected log entries %v", logger.entries)
	}
}

func TestLoggingResponseWriterTruncatesLargeBodies(t *testing.T) {
	lrw := newLoggingResponseWriter(httptest.NewRecorder())
	if _, err := lrw.Write([]byte(strings.Repeat("x", maxLoggedResponseBody+10))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if lrw.StatusCode() != http.StatusOK {
		t.Fatalf("expected default status to be 200, got %d", lrw.StatusCode())
	}
	if !strings.Contains(lrw.LoggedBody(), "-- response truncated after") {
		t.Fatalf("expected truncation notice")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestTransportLogsOutgoingRequests(t *testing.T) {
	logger := &captureLogger{}
	transport := NewTransport(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusCreated, Status: "201 Created", Body: http.NoBody, Request: r}, nil
	}), logger)

	req := httptest.NewRequest(http.MethodPost, "https://bucket.example.com/", nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	resp.Body.Close()
	if len(logger.entries) != 1 || !strings.Contains(logger.entries[0], "POST https://bucket.example.com/ -> 201 Created") {
		t.Fatalf("unexpected log entries %v", logger.entries)
	}
}

func TestTransportLogsFailures(t *testing.T) {
	logger := &captureLogger{}
	transport := NewTransport(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}), logger)

	if _, err := transport.RoundTrip(httptest.NewRequest(http.MethodGet, "https://app/s3policy", nil)); err == nil {
		t.Fatalf("expected error")
	}
	if len(logger.entries) != 1 || !strings.Contains(logger.entries[0], "connection refused") {
		t.Fatalf("unexpected log entries %v", logger.entries)
	}
}
