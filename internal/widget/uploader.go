// Package widget is the host upload queue: it owns the files, sends their
// bytes to the storage endpoint one at a time and fires lifecycle callbacks.
package widget

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"signed-uploads/internal/logging"
)

// Error codes reported through Handler.Error when no HTTP status applies.
const (
	CodeGeneric       = -100
	CodeIO            = -300
	CodeFileExtension = -601
)

const defaultFileDataName = "file"

// Settings configures the uploader transport.
type Settings struct {
	URL          string
	FileDataName string
	Client       *http.Client
	Timeout      time.Duration
	Logger       logging.Logger
}

// Response is what the storage endpoint answered for a finished upload.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Error describes a failure surfaced through Handler.Error.
type Error struct {
	Code    int
	Message string
	File    *File
}

func (e *Error) Error() string {
	if e.File != nil {
		return fmt.Sprintf("%s: %s (%d)", e.File.Name, e.Message, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// Handler receives the uploader's lifecycle events. Callbacks run one at a
// time; BeforeUpload blocks the queue until it returns. Handlers must not call
// AddFiles.
type Handler interface {
	FilesAdded(files []*File)
	// BeforeUpload returns false to skip the file; no bytes are sent for it.
	BeforeUpload(ctx context.Context, f *File) bool
	UploadProgress(f *File)
	FileUploaded(ctx context.Context, f *File, resp *Response)
	Error(err *Error)
}

// State is a snapshot of the queue.
type State struct {
	Running bool
	Queued  int
	Total   int
}

// Uploader processes queued files sequentially.
type Uploader struct {
	settings Settings

	// dispatch serializes Handler callbacks.
	dispatch sync.Mutex

	mu      sync.Mutex
	handler Handler
	files   []*File
	running bool
	cancel  context.CancelFunc
	idle    chan struct{}
	// wake is closed and replaced whenever pending files are released.
	wake chan struct{}
}

// New returns an Uploader posting to settings.URL.
func New(settings Settings) *Uploader {
	if settings.FileDataName == "" {
		settings.FileDataName = defaultFileDataName
	}
	if settings.Client == nil {
		settings.Client = &http.Client{Timeout: settings.Timeout}
	}
	if settings.Logger == nil {
		settings.Logger = logging.New()
	}
	return &Uploader{settings: settings, wake: make(chan struct{})}
}

// Bind installs the handler receiving lifecycle events.
func (u *Uploader) Bind(h Handler) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.handler = h
}

// AddFiles queues files and fires FilesAdded. The files become eligible for
// upload only once FilesAdded has returned, so a running queue never picks a
// file the handler is about to drop.
func (u *Uploader) AddFiles(files ...*File) {
	if len(files) == 0 {
		return
	}
	u.mu.Lock()
	for _, f := range files {
		f.setStatus(Pending)
	}
	u.files = append(u.files, files...)
	h := u.handler
	u.mu.Unlock()

	if h != nil {
		u.dispatch.Lock()
		h.FilesAdded(files)
		u.dispatch.Unlock()
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	for _, f := range files {
		if f.Status() == Pending {
			f.setStatus(Queued)
		}
	}
	close(u.wake)
	u.wake = make(chan struct{})
}

// RemoveFile drops f from the queue. Unknown files are ignored.
func (u *Uploader) RemoveFile(f *File) {
	if f == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	kept := u.files[:0]
	for _, queued := range u.files {
		if queued.ID != f.ID {
			kept = append(kept, queued)
		}
	}
	for i := len(kept); i < len(u.files); i++ {
		u.files[i] = nil
	}
	u.files = kept
}

// Files returns the files currently held by the queue.
func (u *Uploader) Files() []*File {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]*File, len(u.files))
	copy(out, u.files)
	return out
}

// State reports whether the queue is running and how many files wait.
func (u *Uploader) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	st := State{Running: u.running, Total: len(u.files)}
	for _, f := range u.files {
		if f.Status() == Queued {
			st.Queued++
		}
	}
	return st
}

// Start begins processing queued files. Calling Start on a running queue is a
// no-op. After Stop, the new run waits for the interrupted one to unwind.
func (u *Uploader) Start() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	u.running = true
	u.cancel = cancel
	prev := u.idle
	u.idle = make(chan struct{})
	go u.loop(ctx, prev, u.idle)
}

// Stop aborts the upload in flight and halts the queue. The interrupted file
// goes back to the queue.
func (u *Uploader) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil {
		u.cancel()
		u.cancel = nil
	}
	u.running = false
}

// Wait blocks until the latest run has finished or ctx is done.
func (u *Uploader) Wait(ctx context.Context) error {
	u.mu.Lock()
	idle := u.idle
	u.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (u *Uploader) loop(ctx context.Context, prev, idle chan struct{}) {
	defer close(idle)
	if prev != nil {
		<-prev
	}
	for {
		f, h := u.next(ctx)
		if f == nil {
			return
		}
		u.process(ctx, h, f)
	}
}

// next picks the first queued file. While files are still pending it waits
// for them; when nothing is left it marks the queue idle so a later Start
// launches a fresh run.
func (u *Uploader) next(ctx context.Context) (*File, Handler) {
	for {
		u.mu.Lock()
		if ctx.Err() != nil {
			u.mu.Unlock()
			return nil, nil
		}
		pending := false
		for _, f := range u.files {
			switch f.Status() {
			case Queued:
				h := u.handler
				u.mu.Unlock()
				return f, h
			case Pending:
				pending = true
			}
		}
		if !pending {
			u.running = false
			u.cancel()
			u.cancel = nil
			u.mu.Unlock()
			return nil, nil
		}
		wake := u.wake
		u.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
		}
	}
}

func (u *Uploader) process(ctx context.Context, h Handler, f *File) {
	if h != nil && !u.beforeUpload(ctx, h, f) {
		if ctx.Err() != nil {
			f.setStatus(Queued)
			return
		}
		f.setStatus(Failed)
		u.settings.Logger.Printf("skipping %s (%s): rejected before upload", f.Name, f.ID)
		return
	}

	f.setStatus(Uploading)
	resp, err := u.send(ctx, f, h)
	if err != nil {
		if ctx.Err() != nil {
			f.setStatus(Queued)
			return
		}
		f.setStatus(Failed)
		u.emit(h, func() { h.Error(err) })
		return
	}

	f.SetLoaded(f.Size)
	f.setStatus(Done)
	u.emit(h, func() { h.FileUploaded(ctx, f, resp) })
}

func (u *Uploader) beforeUpload(ctx context.Context, h Handler, f *File) bool {
	u.dispatch.Lock()
	defer u.dispatch.Unlock()
	return h.BeforeUpload(ctx, f)
}

// emit runs fn under the dispatch lock when a handler is bound.
func (u *Uploader) emit(h Handler, fn func()) {
	if h == nil {
		return
	}
	u.dispatch.Lock()
	defer u.dispatch.Unlock()
	fn()
}
