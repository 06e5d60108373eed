// Package form models the HTML form that receives uploaded file URLs and the
// fragments the server renders back after it is saved.
package form

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"signed-uploads/internal/logging"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseBody = 4 << 20
)

// ErrSubmitCancelled is returned by Submit when an interceptor took over.
var ErrSubmitCancelled = errors.New("form submission cancelled by interceptor")

// HTTPError is a non-2xx answer to a form save.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("form save failed: %d %s", e.Status, http.StatusText(e.Status))
}

// Options configures a Form.
type Options struct {
	Action    string
	Method    string
	Fields    map[string]string
	Selectors Selectors
	Client    *http.Client
	Timeout   time.Duration
	Logger    logging.Logger
}

// Form holds named field values and knows how to save them.
type Form struct {
	action    string
	method    string
	selectors Selectors
	client    *http.Client
	timeout   time.Duration
	logger    logging.Logger

	mu           sync.Mutex
	values       map[string]string
	interceptors []func() bool
}

// New builds a Form. Only fields present in opts.Fields can be set later.
func New(opts Options) *Form {
	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = http.MethodPost
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.New()
	}
	values := make(map[string]string, len(opts.Fields))
	for k, v := range opts.Fields {
		values[k] = v
	}
	return &Form{
		action:    opts.Action,
		method:    method,
		selectors: opts.Selectors.withDefaults(),
		client:    client,
		timeout:   timeout,
		logger:    logger,
		values:    values,
	}
}

// Action is the URL the form saves to.
func (f *Form) Action() string { return f.action }

// SetField stores value in the named field. It reports false, and changes
// nothing, when the form has no such field.
func (f *Form) SetField(name, value string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[name]; !ok {
		return false
	}
	f.values[name] = value
	return true
}

// Value returns the current value of the named field.
func (f *Form) Value(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[name]
}

// Values returns a copy of all fields.
func (f *Form) Values() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

// Intercept registers fn to run on Submit. Returning false cancels the submission.
func (f *Form) Intercept(fn func() bool) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interceptors = append(f.interceptors, fn)
}

// Submit is the user-triggered submission: interceptors run first and any of
// them may cancel it, otherwise the form is saved.
func (f *Form) Submit(ctx context.Context) (Regions, error) {
	f.mu.Lock()
	interceptors := make([]func() bool, len(f.interceptors))
	copy(interceptors, f.interceptors)
	f.mu.Unlock()

	proceed := true
	for _, fn := range interceptors {
		if !fn() {
			proceed = false
		}
	}
	if !proceed {
		return Regions{}, ErrSubmitCancelled
	}
	return f.Save(ctx)
}

// Save sends the fields as a background request and parses the regions of
// the returned page. Hidden inputs of the returned page replace the form's
// own values.
func (f *Form) Save(ctx context.Context) (Regions, error) {
	if strings.TrimSpace(f.action) == "" {
		return Regions{}, errors.New("form has no action")
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := f.newRequest(ctx)
	if err != nil {
		return Regions{}, fmt.Errorf("build form request: %w", err)
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return Regions{}, fmt.Errorf("save form: %w", err)
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxResponseBody)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(body, 512))
		return Regions{}, &HTTPError{Status: resp.StatusCode, Body: string(snippet)}
	}

	regions, err := ParseRegions(body, f.selectors)
	if err != nil {
		return Regions{}, err
	}
	adopted := f.adoptHidden(regions.Hidden)
	f.logger.Printf("form saved to %s: %d catalog blocks, %d hidden inputs (%d changed)", f.action, len(regions.Catalogs), len(regions.Hidden), adopted)
	return regions, nil
}

// adoptHidden copies the hidden inputs of a saved page into the form so the
// next save posts what the server just issued. Unlike SetField it adds
// fields the form did not have yet.
func (f *Form) adoptHidden(hidden map[string]string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	changed := 0
	for name, value := range hidden {
		if name == "" {
			continue
		}
		if current, ok := f.values[name]; ok && current == value {
			continue
		}
		f.values[name] = value
		changed++
	}
	return changed
}

func (f *Form) newRequest(ctx context.Context) (*http.Request, error) {
	encoded := f.encode()
	if f.method == http.MethodGet {
		target, err := url.Parse(f.action)
		if err != nil {
			return nil, err
		}
		target.RawQuery = encoded
		return http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	}
	req, err := http.NewRequestWithContext(ctx, f.method, f.action, strings.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func (f *Form) encode() string {
	values := f.Values()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	form := url.Values{}
	for _, name := range names {
		form.Set(name, values[name])
	}
	return form.Encode()
}
