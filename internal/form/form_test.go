package form

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type stubLogger struct {
	entries []string
}

func (s *stubLogger) Printf(format string, args ...any) {
	s.entries = append(s.entries, fmt.Sprintf(format, args...))
}

const savedPage = `<!doctype html><html><body>
<form action="/items/1" method="post">
  <input type="hidden" name="file" value="https://bucket.example.com/uploads%2Fabc.png">
  <input type="hidden" name="csrf" value="tok2">
  <input type="text" name="title" value="demo">
  <div id="id_file_preview"><a class="new-window" href="https://bucket.example.com/uploads%2Fabc.png">abc.png</a></div>
</form>
<ul class="catalog" id="catalog-1"><li>abc.png</li></ul>
<ul class="catalog"><li>other.png</li></ul>
</body></html>`

func TestSetFieldOnlyTouchesKnownFields(t *testing.T) {
	f := New(Options{Fields: map[string]string{"file": "", "title": "demo"}, Logger: &stubLogger{}})
	if !f.SetField("file", "https://bucket/x") {
		t.Fatalf("expected known field to be set")
	}
	if f.SetField("missing", "x") {
		t.Fatalf("expected unknown field to be ignored")
	}
	if f.Value("file") != "https://bucket/x" {
		t.Fatalf("unexpected value %q", f.Value("file"))
	}
	if _, ok := f.Values()["missing"]; ok {
		t.Fatalf("unknown field must not be created")
	}
}

func TestSaveSendsFieldsAndParsesRegions(t *testing.T) {
	var gotForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("X-Requested-With") != "XMLHttpRequest" {
			t.Errorf("expected background request header")
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = map[string]string{"file": r.PostForm.Get("file"), "title": r.PostForm.Get("title")}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(savedPage))
	}))
	defer server.Close()

	logger := &stubLogger{}
	f := New(Options{
		Action:    server.URL + "/items/1",
		Fields:    map[string]string{"file": "", "title": "demo"},
		Selectors: Selectors{Preview: "#id_file_preview"},
		Client:    server.Client(),
		Logger:    logger,
	})
	f.SetField("file", "https://bucket.example.com/uploads%2Fabc.png")

	regions, err := f.Save(context.Background())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if gotForm["file"] != "https://bucket.example.com/uploads%2Fabc.png" || gotForm["title"] != "demo" {
		t.Fatalf("unexpected submitted form %v", gotForm)
	}
	if len(regions.Catalogs) != 2 || regions.Catalogs[0].ID != "catalog-1" || regions.Catalogs[1].ID != "" {
		t.Fatalf("unexpected catalogs %+v", regions.Catalogs)
	}
	if !strings.Contains(regions.Catalogs[0].HTML, "<li>abc.png</li>") {
		t.Fatalf("expected catalog html, got %q", regions.Catalogs[0].HTML)
	}
	if regions.Preview == nil || regions.Preview.ID != "id_file_preview" {
		t.Fatalf("expected preview region, got %+v", regions.Preview)
	}
	if regions.Hidden["csrf"] != "tok2" || len(regions.Hidden) != 2 {
		t.Fatalf("unexpected hidden inputs %v", regions.Hidden)
	}
	if len(logger.entries) == 0 {
		t.Fatalf("expected save to be logged")
	}
}

func TestSaveReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid form", http.StatusBadRequest)
	}))
	defer server.Close()

	f := New(Options{Action: server.URL, Client: server.Client(), Logger: &stubLogger{}})
	_, err := f.Save(context.Background())
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.Status != http.StatusBadRequest {
		t.Fatalf("expected HTTPError 400, got %v", err)
	}
}

func TestSaveWithoutActionFails(t *testing.T) {
	f := New(Options{Logger: &stubLogger{}})
	if _, err := f.Save(context.Background()); err == nil {
		t.Fatalf("expected error for missing action")
	}
}

func TestSubmitRunsInterceptors(t *testing.T) {
	var saves int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		saves++
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	f := New(Options{Action: server.URL, Client: server.Client(), Logger: &stubLogger{}})
	var started int
	f.Intercept(func() bool {
		started++
		return false
	})

	if _, err := f.Submit(context.Background()); !errors.Is(err, ErrSubmitCancelled) {
		t.Fatalf("expected cancelled submission, got %v", err)
	}
	if started != 1 || saves != 0 {
		t.Fatalf("expected interceptor to run without saving, started=%d saves=%d", started, saves)
	}

	regions, err := f.Save(context.Background())
	if err != nil {
		t.Fatalf("background save bypasses interceptors: %v", err)
	}
	if !regions.Empty() || saves != 1 {
		t.Fatalf("expected one empty save, got %+v saves=%d", regions, saves)
	}
}

func TestSubmitWithoutInterceptorsSaves(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Query().Get("q") != "x" {
			t.Errorf("expected GET with query, got %s %s", r.Method, r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`<div class="catalog">1</div>`))
	}))
	defer server.Close()

	f := New(Options{Action: server.URL, Method: "get", Fields: map[string]string{"q": "x"}, Client: server.Client(), Logger: &stubLogger{}})
	regions, err := f.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(regions.Catalogs) != 1 {
		t.Fatalf("expected one catalog region, got %d", len(regions.Catalogs))
	}
}

func TestSaveCarriesIssuedHiddenInputsIntoNextSave(t *testing.T) {
	var posted []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		posted = append(posted, r.PostForm.Get("object_id")+"|"+r.PostForm.Get("csrf"))
		_, _ = w.Write([]byte(`<form><input type="hidden" name="object_id" value="42"><input type="hidden" name="csrf" value="tok2"></form>`))
	}))
	defer server.Close()

	f := New(Options{
		Action: server.URL,
		Fields: map[string]string{"object_id": "", "csrf": "tok1"},
		Client: server.Client(),
		Logger: &stubLogger{},
	})
	for i := 0; i < 2; i++ {
		if _, err := f.Save(context.Background()); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	if len(posted) != 2 || posted[0] != "|tok1" || posted[1] != "42|tok2" {
		t.Fatalf("unexpected posted values %v", posted)
	}
	if f.Value("object_id") != "42" || f.Value("csrf") != "tok2" {
		t.Fatalf("expected form to hold issued values, got %v", f.Values())
	}
}
