package v1

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signed-uploads/internal/adapter"
	"signed-uploads/internal/logging"
	"signed-uploads/internal/status"
)

// RuntimeInfo describes the pieces of uploader configuration the status server exposes.
type RuntimeInfo struct {
	Name        string `json:"name"`
	Addr        string `json:"addr"`
	Port        string `json:"port"`
	ReadTimeout string `json:"readTimeout"`
	UploadURL   string `json:"uploadUrl"`
	MaxFileSize string `json:"maxFileSize"`
	AutoUpload  bool   `json:"autoUpload"`
}

// PageRenderer renders the embedding page with the given inner HTML placed
// into the element matched by selector.
type PageRenderer interface {
	Snapshot(selector, inner string) (string, error)
}

// Options configures the HTTP router.
type Options struct {
	Logger       logging.Logger
	RuntimeInfo  RuntimeInfo
	Page         PageRenderer
	ListSelector string
	Status       *status.List
	Files        func() []adapter.FileInfo
	Gatherer     prometheus.Gatherer
}

// StatusResponse is the JSON form of the status list.
type StatusResponse struct {
	Rows   []status.Row       `json:"rows"`
	Errors []status.ErrorRow  `json:"errors"`
	Files  []adapter.FileInfo `json:"files"`
}

// NewRouter constructs the status server router.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	list := opts.Status
	if list == nil {
		list = status.NewList()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		if opts.Page == nil {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("no page configured"))
			return
		}
		var buf bytes.Buffer
		if err := list.RenderHTML(&buf); err != nil {
			http.Error(w, "failed to render status list", http.StatusInternalServerError)
			return
		}
		html, err := opts.Page.Snapshot(opts.ListSelector, buf.String())
		if err != nil {
			http.Error(w, "failed to render page", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(html))
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := list.RenderHTML(w); err != nil && logger != nil {
			logger.Printf("render status list: %v", err)
		}
	})

	r.Get("/api/status", func(w http.ResponseWriter, req *http.Request) {
		respondJSON(w, snapshot(list, opts.Files))
	})
	r.Method(http.MethodGet, "/api/status/stream", newStatusStream(list, opts.Files, logger))

	r.Get("/api/server/config", func(w http.ResponseWriter, req *http.Request) {
		respondJSON(w, opts.RuntimeInfo)
	})

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return logging.WithHTTPLogging(r, logger)
}

func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
