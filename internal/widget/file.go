package widget

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Status is the widget's view of a queued file.
type Status int

const (
	Queued Status = iota
	Uploading
	Done
	Failed
	// Pending files are held back until FilesAdded has seen them.
	Pending
)

func (s Status) String() string {
	switch s {
	case Queued:
		return "queued"
	case Uploading:
		return "uploading"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Pending:
		return "pending"
	}
	return "unknown"
}

// Opener returns a fresh reader over the file's bytes.
type Opener func() (io.ReadCloser, error)

// File is one entry of the upload queue.
type File struct {
	ID   string
	Name string
	Size int64

	mu      sync.Mutex
	percent int
	loaded  int64
	status  Status
	params  map[string]string
	open    Opener
}

// NewFile queues bytes produced by open under name.
func NewFile(name string, size int64, open Opener) *File {
	return &File{
		ID:   uuid.NewString(),
		Name: name,
		Size: size,
		open: open,
	}
}

// FileFromPath stats path and returns a File reading from it lazily.
func FileFromPath(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return NewFile(filepath.Base(path), info.Size(), func() (io.ReadCloser, error) {
		return os.Open(path)
	}), nil
}

// Percent is the last reported upload progress, 0..100.
func (f *File) Percent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.percent
}

// Loaded is the number of bytes sent so far.
func (f *File) Loaded() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

// Status reports where the file is in the queue.
func (f *File) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Params returns a copy of the multipart fields attached to this file's upload.
func (f *File) Params() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyParams(f.params)
}

// SetParams attaches the multipart fields sent ahead of this file's bytes.
// They belong to this file only and are never shared with other uploads.
func (f *File) SetParams(params map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = copyParams(params)
}

func (f *File) setStatus(s Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

// SetLoaded records progress and reports whether the integer percentage changed.
func (f *File) SetLoaded(n int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = n
	pct := 100
	if f.Size > 0 {
		pct = int(n * 100 / f.Size)
	}
	if pct > 100 {
		pct = 100
	}
	if pct == f.percent {
		return false
	}
	f.percent = pct
	return true
}

func copyParams(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
