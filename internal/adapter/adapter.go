// Package adapter connects the upload queue to the signing endpoint, the
// status list and the embedding form.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"signed-uploads/internal/form"
	"signed-uploads/internal/logging"
	"signed-uploads/internal/signature"
	"signed-uploads/internal/status"
	"signed-uploads/internal/widget"
)

const tracerName = "signed-uploads/adapter"

// Queue is the part of the upload widget the adapter drives.
type Queue interface {
	Start()
	RemoveFile(f *widget.File)
}

// Signer issues signature documents.
type Signer interface {
	Fetch(ctx context.Context, size int64, filename string) (signature.Document, error)
}

// Form receives the uploaded file URL.
type Form interface {
	SetField(name, value string) bool
	Intercept(fn func() bool)
	Save(ctx context.Context) (form.Regions, error)
}

// Options wires an Adapter.
type Options struct {
	Queue       Queue
	Signer      Signer
	Status      *status.List
	Form        Form
	MaxFileSize int64
	// AllowedTypes lists accepted file extensions without the dot. Empty
	// accepts every file.
	AllowedTypes  []string
	AutoUpload    bool
	URL           string
	FileInputName string
	// SaveOnUpload saves the form after every finished upload and hands the
	// returned regions to OnSaved.
	SaveOnUpload bool
	OnSaved      func(form.Regions)
	// Refreshers run after OnSaved, e.g. to rebind sortable lists.
	Refreshers []func()
	Metrics    *Metrics
	// Tracer defaults to the global otel provider.
	Tracer trace.Tracer
	Logger logging.Logger
}

// FileInfo is the adapter's record of one file.
type FileInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State State  `json:"state"`
	URL   string `json:"url,omitempty"`
}

type fileState struct {
	name  string
	state State
	doc   signature.Document
	url   string
}

// Adapter implements widget.Handler.
type Adapter struct {
	opts Options

	allowed map[string]bool

	mu           sync.Mutex
	files        map[string]*fileState
	order        []string
	intercepting bool
}

var _ widget.Handler = (*Adapter)(nil)

// New returns an Adapter. Queue, Signer and Status are required.
func New(opts Options) (*Adapter, error) {
	if opts.Queue == nil {
		return nil, errors.New("adapter: queue is required")
	}
	if opts.Signer == nil {
		return nil, errors.New("adapter: signer is required")
	}
	if opts.Status == nil {
		return nil, errors.New("adapter: status list is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.New()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	a := &Adapter{opts: opts, files: make(map[string]*fileState)}
	for _, ext := range opts.AllowedTypes {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" {
			continue
		}
		if a.allowed == nil {
			a.allowed = map[string]bool{}
		}
		a.allowed[ext] = true
	}
	return a, nil
}

// FilesAdded renders a row per file, drops files of a disallowed type or over
// the size limit and starts the queue, or defers the start until the form is
// submitted.
func (a *Adapter) FilesAdded(files []*widget.File) {
	a.opts.Status.ClearErrors()
	for _, f := range files {
		a.track(f)
		a.opts.Metrics.fileAdded()
		a.opts.Status.Append(f.ID, f.Name, f.Size)
		if ext, ok := a.typeAllowed(f.Name); !ok {
			a.reject(f, &UploadError{
				Kind:    TypeNotAllowed,
				Code:    widget.CodeFileExtension,
				Message: fmt.Sprintf("Filetype %s (%s) is not allowed", ext, f.Name),
				File:    f.Name,
			}, RejectedByType)
			continue
		}
		if max := a.opts.MaxFileSize; max > 0 && f.Size > max {
			a.reject(f, &UploadError{
				Kind:    SizeExceeded,
				Code:    CodeRejected,
				Message: fmt.Sprintf("%s (%s) is more than the limit (%s)", f.Name, widget.FormatSize(f.Size), widget.FormatSize(max)),
				File:    f.Name,
			}, RejectedBySize)
		}
	}

	if a.opts.AutoUpload {
		a.opts.Queue.Start()
		return
	}
	a.interceptSubmit()
}

// typeAllowed checks the file's extension against AllowedTypes and returns
// the extension as written in the name.
func (a *Adapter) typeAllowed(name string) (string, bool) {
	ext := path.Ext(name)
	if a.allowed == nil {
		return ext, true
	}
	return ext, a.allowed[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

// interceptSubmit makes the next form submission start the queue instead of
// navigating away.
func (a *Adapter) interceptSubmit() {
	if a.opts.Form == nil {
		return
	}
	a.mu.Lock()
	registered := a.intercepting
	a.intercepting = true
	a.mu.Unlock()
	if registered {
		return
	}
	a.opts.Form.Intercept(func() bool {
		a.opts.Logger.Printf("form submitted, starting queued uploads")
		a.opts.Queue.Start()
		return false
	})
}

// BeforeUpload fetches the file's signature and attaches it to the file.
// It blocks the queue until the signing endpoint answers.
func (a *Adapter) BeforeUpload(ctx context.Context, f *widget.File) bool {
	a.transition(f.ID, Signing)

	ctx, span := a.opts.Tracer.Start(ctx, "signature.fetch", trace.WithAttributes(
		attribute.String("file.id", f.ID),
		attribute.String("file.name", f.Name),
		attribute.Int64("file.size", f.Size),
	))
	defer span.End()

	started := time.Now()
	doc, err := a.opts.Signer.Fetch(ctx, f.Size, f.Name)
	a.opts.Metrics.observeSigning(time.Since(started))

	if err != nil && ctx.Err() != nil {
		// The queue was stopped; the widget keeps the file for the next run.
		a.transition(f.ID, Queued)
		a.opts.Logger.Printf("signing %s interrupted: %v", f.Name, ctx.Err())
		return false
	}
	if err != nil {
		code, msg := signature.CodeNoResponse, err.Error()
		var terr *signature.TransportError
		if errors.As(err, &terr) {
			code, msg = terr.Status, terr.Message
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		a.reject(f, &UploadError{Kind: TransportFailure, Code: code, Message: msg, File: f.Name}, SigningFailed)
		return false
	}
	if msg := doc.ErrorMessage(); msg != "" {
		span.SetStatus(codes.Error, msg)
		a.reject(f, &UploadError{Kind: SigningRejected, Code: CodeRejected, Message: msg, File: f.Name}, SigningFailed)
		return false
	}
	span.SetAttributes(attribute.String("upload.key", doc.Key()))

	f.SetParams(doc.Params())
	a.mu.Lock()
	if st, ok := a.files[f.ID]; ok {
		st.doc = doc
	}
	a.mu.Unlock()
	a.transition(f.ID, Signed)
	a.opts.Logger.Printf("signed %s for key %q", f.Name, doc.Key())
	return true
}

// UploadProgress shows the file's percentage on its own row.
func (a *Adapter) UploadProgress(f *widget.File) {
	a.transition(f.ID, Uploading)
	a.opts.Status.SetPercent(f.ID, f.Percent())
}

// FileUploaded writes the object URL into the form and, when configured,
// saves the form and hands the returned regions to OnSaved.
func (a *Adapter) FileUploaded(ctx context.Context, f *widget.File, resp *widget.Response) {
	a.opts.Status.Remove(f.ID)

	a.mu.Lock()
	var key string
	if st, ok := a.files[f.ID]; ok {
		key = st.doc.Key()
	}
	a.mu.Unlock()
	if key == "" {
		key = f.Params()["key"]
	}
	if key == "" {
		a.fail(f, &UploadError{Kind: UploadFailed, Code: widget.CodeGeneric, Message: "signature carried no destination key", File: f.Name})
		return
	}

	fileURL := a.opts.URL + url.PathEscape(key)
	a.mu.Lock()
	if st, ok := a.files[f.ID]; ok {
		st.url = fileURL
	}
	a.mu.Unlock()
	a.transition(f.ID, Uploaded)
	a.opts.Metrics.fileUploaded()

	if a.opts.Form == nil {
		a.opts.Logger.Printf("uploaded %s to %s (no form attached)", f.Name, fileURL)
		return
	}
	if !a.opts.Form.SetField(a.opts.FileInputName, fileURL) {
		a.opts.Logger.Printf("form has no field %q; %s not recorded", a.opts.FileInputName, fileURL)
	}
	a.opts.Logger.Printf("uploaded %s to %s", f.Name, fileURL)

	if a.opts.SaveOnUpload {
		a.save(ctx)
	}
}

func (a *Adapter) save(ctx context.Context) {
	ctx, span := a.opts.Tracer.Start(ctx, "form.save")
	defer span.End()

	regions, err := a.opts.Form.Save(ctx)
	if err != nil {
		code := widget.CodeGeneric
		var herr *form.HTTPError
		if errors.As(err, &herr) {
			code = herr.Status
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.report(&UploadError{Kind: SaveFailed, Code: code, Message: err.Error()})
		return
	}
	if a.opts.OnSaved != nil {
		a.opts.OnSaved(regions)
	}
	for _, refresh := range a.opts.Refreshers {
		if refresh != nil {
			refresh()
		}
	}
}

// Error appends an error row. Errors tied to a file also end its row.
func (a *Adapter) Error(err *widget.Error) {
	if err == nil {
		return
	}
	e := &UploadError{Kind: UploadFailed, Code: err.Code, Message: err.Message}
	if err.File == nil {
		a.report(e)
		return
	}
	e.File = err.File.Name
	a.fail(err.File, e)
}

// State returns the lifecycle state of the file with the given id.
func (a *Adapter) State(id string) (State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.files[id]
	if !ok {
		return 0, false
	}
	return st.state, true
}

// Files lists every file the adapter has seen, in the order they were added.
func (a *Adapter) Files() []FileInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]FileInfo, 0, len(a.order))
	for _, id := range a.order {
		st := a.files[id]
		out = append(out, FileInfo{ID: id, Name: st.name, State: st.state, URL: st.url})
	}
	return out
}

func (a *Adapter) track(f *widget.File) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.files[f.ID]; !ok {
		a.order = append(a.order, f.ID)
	}
	a.files[f.ID] = &fileState{name: f.Name, state: Queued}
}

func (a *Adapter) transition(id string, to State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.files[id]
	if !ok {
		return
	}
	if !canTransition(st.state, to) {
		a.opts.Logger.Printf("ignoring transition of %s from %s to %s", id, st.state, to)
		return
	}
	st.state = to
}

// reject abandons a file before its bytes are sent: error row, row removed,
// file dropped from the queue so the next one proceeds.
func (a *Adapter) reject(f *widget.File, e *UploadError, to State) {
	a.report(e)
	a.opts.Status.Remove(f.ID)
	a.opts.Queue.RemoveFile(f)
	a.transition(f.ID, to)
}

// fail abandons a file whose upload already began.
func (a *Adapter) fail(f *widget.File, e *UploadError) {
	a.report(e)
	a.opts.Status.Remove(f.ID)
	a.transition(f.ID, Failed)
}

func (a *Adapter) report(e *UploadError) {
	a.opts.Status.AppendError(e.Message, e.Code)
	a.opts.Metrics.fileRejected(e.Kind)
	a.opts.Logger.Printf("upload error: %v", e)
}
