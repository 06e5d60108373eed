// Package status keeps the per-file status rows shown while uploads run.
package status

import (
	"fmt"
	"html/template"
	"io"
	"strconv"
	"sync"

	"signed-uploads/internal/widget"
)

// PendingState is the text a row shows until the first progress event.
const PendingState = "pending"

// Row is one file's line in the status list.
type Row struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	State string `json:"state"`
}

// Label renders "name (size)".
func (r Row) Label() string {
	return fmt.Sprintf("%s (%s)", r.Name, widget.FormatSize(r.Size))
}

// ErrorRow is a dismissible error line.
type ErrorRow struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// List is safe for concurrent use.
type List struct {
	mu      sync.RWMutex
	rows    []Row
	errors  []ErrorRow
	subs    map[int]chan struct{}
	nextSub int
}

// NewList returns an empty status list.
func NewList() *List {
	return &List{}
}

// Append adds a pending row for a file. An existing row with the same id is replaced.
func (l *List) Append(id, name string, size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	defer l.notify()
	row := Row{ID: id, Name: name, Size: size, State: PendingState}
	if i := l.indexOf(id); i >= 0 {
		l.rows[i] = row
		return
	}
	l.rows = append(l.rows, row)
}

// SetState replaces the state text of the row with the given id and reports
// whether such a row exists.
func (l *List) SetState(id, state string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexOf(id)
	if i < 0 {
		return false
	}
	if l.rows[i].State != state {
		l.rows[i].State = state
		l.notify()
	}
	return true
}

// SetPercent is SetState with "N%".
func (l *List) SetPercent(id string, percent int) bool {
	return l.SetState(id, strconv.Itoa(percent)+"%")
}

// Remove deletes the row with the given id.
func (l *List) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.indexOf(id); i >= 0 {
		l.rows = append(l.rows[:i], l.rows[i+1:]...)
		l.notify()
	}
}

// AppendError adds an error row.
func (l *List) AppendError(message string, code int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, ErrorRow{Message: message, Code: code})
	l.notify()
}

// ClearErrors drops every error row.
func (l *List) ClearErrors() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.errors) > 0 {
		l.errors = nil
		l.notify()
	}
}

// Subscribe returns a channel that receives a value after the list changes.
// Changes made while the reader is busy coalesce into one signal. Call the
// returned func to unsubscribe.
func (l *List) Subscribe() (<-chan struct{}, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subs == nil {
		l.subs = make(map[int]chan struct{})
	}
	id := l.nextSub
	l.nextSub++
	ch := make(chan struct{}, 1)
	l.subs[id] = ch
	return ch, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs, id)
	}
}

// notify must be called with l.mu held.
func (l *List) notify() {
	for _, ch := range l.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Rows returns a copy of the file rows in insertion order.
func (l *List) Rows() []Row {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Row, len(l.rows))
	copy(out, l.rows)
	return out
}

// Len is the number of file rows.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rows)
}

// Row looks up a file row by id.
func (l *List) Row(id string) (Row, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i := l.indexOf(id); i >= 0 {
		return l.rows[i], true
	}
	return Row{}, false
}

// Errors returns a copy of the error rows.
func (l *List) Errors() []ErrorRow {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ErrorRow, len(l.errors))
	copy(out, l.errors)
	return out
}

func (l *List) indexOf(id string) int {
	for i, row := range l.rows {
		if row.ID == id {
			return i
		}
	}
	return -1
}

var listTemplate = template.Must(template.New("status").Parse(
	`{{range .Rows}}<div id="{{.ID}}">{{.Label}} <b>{{.State}}</b></div>
{{end}}{{range .Errors}}<div class="upload-error">{{.Message}} <i>({{.Code}})</i></div>
{{end}}`))

// RenderHTML writes the list as the HTML fragment placed in the status container.
func (l *List) RenderHTML(w io.Writer) error {
	data := struct {
		Rows   []Row
		Errors []ErrorRow
	}{Rows: l.Rows(), Errors: l.Errors()}
	return listTemplate.Execute(w, data)
}
