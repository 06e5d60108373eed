// Package signature fetches per-file upload authorizations from the signing endpoint.
package signature

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout  = 10 * time.Second
	maxDocumentSize = 64 << 10

	// CodeNoResponse marks failures where the endpoint never answered or the
	// answer could not be decoded.
	CodeNoResponse = -100

	fieldKey          = "key"
	fieldErrorMessage = "errorMessage"
)

// Document holds the upload parameters issued for one pending upload.
type Document map[string]string

// Key is the storage destination the upload is authorised for.
func (d Document) Key() string { return d[fieldKey] }

// ErrorMessage is set when the endpoint refused to sign the upload.
func (d Document) ErrorMessage() string { return strings.TrimSpace(d[fieldErrorMessage]) }

// Params returns the fields to attach to the upload request.
func (d Document) Params() map[string]string {
	out := make(map[string]string, len(d))
	for k, v := range d {
		if k == fieldErrorMessage {
			continue
		}
		out[k] = v
	}
	return out
}

// TransportError reports a signing request that did not produce a document.
type TransportError struct {
	Status  int
	Message string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("signature request failed: %s (%d)", e.Message, e.Status)
}

// Client requests signature documents.
type Client struct {
	HTTPClient *http.Client
	URL        string
	Timeout    time.Duration
}

// Fetch asks the endpoint to sign an upload of size bytes named filename.
// A refusal still comes back as a Document carrying an error message.
func (c *Client) Fetch(ctx context.Context, size int64, filename string) (Document, error) {
	target, err := url.Parse(c.URL)
	if err != nil {
		return nil, &TransportError{Status: CodeNoResponse, Message: fmt.Sprintf("invalid signature url: %v", err)}
	}
	q := target.Query()
	q.Set("file_size", strconv.FormatInt(size, 10))
	q.Set("filename", filename)
	target.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &TransportError{Status: CodeNoResponse, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, &TransportError{Status: CodeNoResponse, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, &TransportError{Status: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if msg == "" || len(msg) > 200 {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &TransportError{Status: resp.StatusCode, Message: msg}
	}

	doc, err := decodeDocument(body)
	if err != nil {
		return nil, &TransportError{Status: CodeNoResponse, Message: fmt.Sprintf("parse error: %v", err)}
	}
	return doc, nil
}

func (c *Client) requestTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.requestTimeout()}
}

// decodeDocument keeps string values as-is and any other JSON value as its
// literal text, so numbers and booleans survive as multipart fields.
func decodeDocument(body []byte) (Document, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("expected a JSON object")
	}
	doc := make(Document, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		if len(v) > 0 && v[0] == '"' {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return nil, fmt.Errorf("field %s: %w", k, err)
			}
			doc[k] = s
			continue
		}
		if string(v) == "null" {
			continue
		}
		doc[k] = string(v)
	}
	return doc, nil
}
