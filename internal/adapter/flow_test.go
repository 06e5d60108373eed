package adapter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"signed-uploads/internal/form"
	"signed-uploads/internal/logging"
	"signed-uploads/internal/signature"
	"signed-uploads/internal/status"
	"signed-uploads/internal/widget"
)

type flow struct {
	storage  *httptest.Server
	signer   *httptest.Server
	saver    *httptest.Server
	uploader *widget.Uploader
	form     *form.Form
	status   *status.List
	adapter  *Adapter

	mu        sync.Mutex
	stored    []string
	saved     []string
	objectIDs []string
	regions   []form.Regions
}

func newFlow(t *testing.T, docs map[string]map[string]string, saveOnUpload bool) *flow {
	t.Helper()
	fl := &flow{status: status.NewList()}

	fl.signer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc, ok := docs[r.URL.Query().Get("filename")]
		if !ok {
			http.Error(w, "unknown file", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(fl.signer.Close)

	fl.storage = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fl.mu.Lock()
		fl.stored = append(fl.stored, r.FormValue("key"))
		fl.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(fl.storage.Close)

	fl.saver = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		fl.mu.Lock()
		fl.saved = append(fl.saved, r.PostForm.Get("image"))
		fl.objectIDs = append(fl.objectIDs, r.PostForm.Get("object_id"))
		fl.mu.Unlock()
		_, _ = io.WriteString(w, `<form><input type="hidden" name="object_id" value="42"></form>`+
			`<div><ul class="catalog" id="gallery"><li>`+r.PostForm.Get("image")+`</li></ul></div>`)
	}))
	t.Cleanup(fl.saver.Close)

	logger := logging.Discard()
	fl.uploader = widget.New(widget.Settings{URL: fl.storage.URL, Client: fl.storage.Client(), Logger: logger})
	fl.form = form.New(form.Options{
		Action: fl.saver.URL,
		Fields: map[string]string{"image": "", "title": "holiday", "object_id": ""},
		Client: fl.saver.Client(),
		Logger: logger,
	})

	a, err := New(Options{
		Queue:         fl.uploader,
		Signer:        &signature.Client{HTTPClient: fl.signer.Client(), URL: fl.signer.URL + "/sign"},
		Status:        fl.status,
		Form:          fl.form,
		MaxFileSize:   1 << 20,
		AutoUpload:    true,
		URL:           "https://bucket.example.com/",
		FileInputName: "image",
		SaveOnUpload:  saveOnUpload,
		OnSaved: func(r form.Regions) {
			fl.mu.Lock()
			fl.regions = append(fl.regions, r)
			fl.mu.Unlock()
		},
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	fl.adapter = a
	fl.uploader.Bind(a)
	return fl
}

func (fl *flow) snapshot() (stored, saved []string, regions []form.Regions) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return append([]string(nil), fl.stored...), append([]string(nil), fl.saved...), append([]form.Regions(nil), fl.regions...)
}

func (fl *flow) postedObjectIDs() []string {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return append([]string(nil), fl.objectIDs...)
}

func (fl *flow) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fl.uploader.Wait(ctx); err != nil {
		t.Fatalf("queue did not drain: %v", err)
	}
}

func TestFlowOversizedFileNeverUploads(t *testing.T) {
	fl := newFlow(t, map[string]map[string]string{}, false)
	big := newFile("big.png", 2<<20)
	fl.uploader.AddFiles(big)
	fl.drain(t)
	stored, _, _ := fl.snapshot()

	errs := fl.status.Errors()
	if len(errs) != 1 || errs[0].Code != 403 {
		t.Fatalf("expected one 403 error row, got %+v", errs)
	}
	if len(stored) != 0 {
		t.Fatalf("expected no bytes sent, got %v", stored)
	}
	if len(fl.status.Rows()) != 0 {
		t.Fatalf("expected no rows left, got %+v", fl.status.Rows())
	}
}

func TestFlowUploadWritesURLAndSaves(t *testing.T) {
	fl := newFlow(t, map[string]map[string]string{
		"abc.png": {"key": "uploads/abc.png", "policy": "p", "signature": "s"},
	}, true)
	f := newFile("abc.png", 500<<10)
	fl.uploader.AddFiles(f)
	fl.drain(t)
	stored, saved, regions := fl.snapshot()

	want := "https://bucket.example.com/uploads%2Fabc.png"
	if got := fl.form.Value("image"); got != want {
		t.Fatalf("expected form field %q, got %q", want, got)
	}
	if len(stored) != 1 || stored[0] != "uploads/abc.png" {
		t.Fatalf("expected storage to receive the signed key, got %v", stored)
	}
	if len(saved) != 1 || saved[0] != want {
		t.Fatalf("expected the form to be saved with the url, got %v", saved)
	}
	if len(regions) != 1 || len(regions[0].Catalogs) != 1 || regions[0].Catalogs[0].ID != "gallery" {
		t.Fatalf("expected the catalog region handed back, got %+v", regions)
	}
	if len(fl.status.Rows()) != 0 || len(fl.status.Errors()) != 0 {
		t.Fatalf("expected a clean status list, got %+v %+v", fl.status.Rows(), fl.status.Errors())
	}
	if st, _ := fl.adapter.State(f.ID); st != Uploaded {
		t.Fatalf("expected uploaded, got %s", st)
	}
}

func TestFlowLaterSavePostsIssuedHiddenInputs(t *testing.T) {
	fl := newFlow(t, map[string]map[string]string{
		"a.png": {"key": "uploads/a.png"},
		"b.png": {"key": "uploads/b.png"},
	}, true)
	fl.uploader.AddFiles(newFile("a.png", 10), newFile("b.png", 10))
	fl.drain(t)

	ids := fl.postedObjectIDs()
	if len(ids) != 2 || ids[0] != "" || ids[1] != "42" {
		t.Fatalf("expected the second save to post the issued object id, got %q", ids)
	}
	if got := fl.form.Value("object_id"); got != "42" {
		t.Fatalf("expected form to keep object_id=42, got %q", got)
	}
}

func TestFlowSigningRefusalDoesNotStallQueue(t *testing.T) {
	fl := newFlow(t, map[string]map[string]string{
		"bad.exe":  {"errorMessage": "File type not allowed"},
		"good.png": {"key": "uploads/good.png"},
	}, false)
	bad, good := newFile("bad.exe", 10), newFile("good.png", 10)
	fl.uploader.AddFiles(bad, good)
	fl.drain(t)
	stored, _, _ := fl.snapshot()

	errs := fl.status.Errors()
	if len(errs) != 1 || errs[0].Message != "File type not allowed" {
		t.Fatalf("expected the refusal as an error row, got %+v", errs)
	}
	if len(stored) != 1 || stored[0] != "uploads/good.png" {
		t.Fatalf("expected only good.png to be stored, got %v", stored)
	}
	if got := fl.form.Value("image"); !strings.HasSuffix(got, "uploads%2Fgood.png") {
		t.Fatalf("unexpected field value %q", got)
	}
	if st, _ := fl.adapter.State(bad.ID); st != SigningFailed {
		t.Fatalf("expected signing-failed, got %s", st)
	}
}

func TestFlowManualModeWaitsForSubmit(t *testing.T) {
	fl := newFlow(t, map[string]map[string]string{
		"a.png": {"key": "uploads/a.png"},
	}, false)
	fl.adapter.opts.AutoUpload = false

	fl.uploader.AddFiles(newFile("a.png", 10))
	if fl.uploader.State().Running {
		t.Fatalf("expected queue to wait for the form")
	}
	if _, err := fl.form.Submit(context.Background()); err != form.ErrSubmitCancelled {
		t.Fatalf("expected submit to be taken over, got %v", err)
	}
	fl.drain(t)
	stored, saved, _ := fl.snapshot()
	if len(stored) != 1 {
		t.Fatalf("expected the upload to run after submit, got %v", stored)
	}
	if len(saved) != 0 {
		t.Fatalf("expected no save when save_on_upload is off")
	}
}
