package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"signed-uploads/config"
	"signed-uploads/internal/adapter"
	apiv1 "signed-uploads/internal/api/v1"
	"signed-uploads/internal/form"
	"signed-uploads/internal/httpserver"
	"signed-uploads/internal/logging"
	"signed-uploads/internal/page"
	"signed-uploads/internal/signature"
	"signed-uploads/internal/status"
	"signed-uploads/internal/widget"
)

const (
	defaultConfigPath  = "config.json"
	defaultLogDir      = "data"
	defaultLogFileName = "uploader.log"
	defaultReadTimeout = 10 * time.Second
	defaultStatusPort  = "8089"
	stopGrace          = 5 * time.Second
)

// Options controls how a batch runs and where configuration comes from.
type Options struct {
	ConfigPath string
	// EnvFile is a dotenv file with UPLOADER_* overrides; it defaults to
	// .env next to the config file.
	EnvFile     string
	LogDir      string
	LogFile     string
	ReadTimeout time.Duration
	// Files are local paths queued in order.
	Files []string
	// Serve starts the status server and keeps it up after the queue drains
	// until ctx is cancelled.
	Serve bool
}

// Result is the state left behind by a batch.
type Result struct {
	Values map[string]string  `json:"values"`
	Files  []adapter.FileInfo `json:"files"`
	Rows   []status.Row       `json:"rows"`
	Errors []status.ErrorRow  `json:"errors"`
}

// Failed reports whether any file ended in an error state.
func (r Result) Failed() bool {
	return len(r.Errors) > 0
}

// Run wires dependencies together, uploads opts.Files and returns once the
// queue has drained, or when ctx is cancelled.
func Run(ctx context.Context, opts Options) (Result, error) {
	if ctx == nil {
		return Result{}, errors.New("context is required")
	}

	opts = opts.withDefaults()

	logFilePath := filepath.Join(opts.LogDir, opts.LogFile)
	logFile, err := configureLogging(logFilePath)
	if err != nil {
		return Result{}, fmt.Errorf("configure logging: %w", err)
	}
	defer logFile.Close()

	if err := config.LoadEnvFile(opts.EnvFile); err != nil {
		return Result{}, err
	}
	appCfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return Result{}, err
	}
	logger := logging.New()

	b, err := build(appCfg, logger)
	if err != nil {
		return Result{}, err
	}

	var srv *httpserver.Server
	errCh := make(chan error, 1)
	if opts.Serve || appCfg.Server.Port != "" {
		srv, err = b.server(appCfg, opts, logger)
		if err != nil {
			return Result{}, fmt.Errorf("build server: %w", err)
		}
		go func() {
			errCh <- srv.ListenAndServe()
		}()
		defer srv.Close()
	}

	if err := b.queue(opts.Files); err != nil {
		return Result{}, err
	}
	if err := b.start(ctx, appCfg.Upload.AutoUpload); err != nil {
		return Result{}, err
	}

	waitErr := b.uploader.Wait(ctx)
	if waitErr != nil {
		b.stop()
	}
	result := b.result()
	logger.Printf("Batch finished: %d files, %d errors", len(result.Files), len(result.Errors))
	if waitErr != nil {
		return result, waitErr
	}

	if srv == nil || !opts.Serve {
		return result, nil
	}
	logger.Printf("Uploads done; status server stays up until interrupted")
	select {
	case <-ctx.Done():
		logger.Printf("Shutting down...")
		_ = srv.Shutdown(context.Background())
		return result, <-errCh
	case err := <-errCh:
		return result, err
	}
}

// batch holds the wired components for one run.
type batch struct {
	page     *page.Page
	form     *form.Form
	list     *status.List
	uploader *widget.Uploader
	adapter  *adapter.Adapter
	registry *prometheus.Registry
	logger   logging.Logger
}

func build(cfg config.Config, logger logging.Logger) (*batch, error) {
	timeout := time.Duration(cfg.Upload.TimeoutSeconds) * time.Second
	client := &http.Client{
		Timeout:   timeout,
		Transport: logging.NewTransport(nil, logging.WithPrefix(logger, "http")),
	}
	selectors := form.Selectors{
		Catalog: cfg.Form.CatalogSelector,
		Preview: cfg.Form.PreviewSelector,
	}

	pg, frm, err := buildPageAndForm(cfg, selectors, form.Options{
		Action:    cfg.Form.Action,
		Method:    cfg.Form.Method,
		Fields:    cfg.Form.Fields,
		Selectors: selectors,
		Client:    client,
		Timeout:   timeout,
		Logger:    logging.WithPrefix(logger, "form"),
	})
	if err != nil {
		return nil, err
	}

	b := &batch{
		page:     pg,
		form:     frm,
		list:     status.NewList(),
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}
	// Storage POSTs carry whole files and are not bound by the request timeout.
	uploadClient := &http.Client{Transport: client.Transport}
	b.uploader = widget.New(widget.Settings{
		URL:          cfg.Upload.URL,
		FileDataName: cfg.Upload.FileDataName,
		Client:       uploadClient,
		Logger:       logging.WithPrefix(logger, "widget"),
	})

	b.adapter, err = adapter.New(adapter.Options{
		Queue:         b.uploader,
		Signer:        &signature.Client{HTTPClient: client, URL: cfg.Upload.SignatureURL},
		Status:        b.list,
		Form:          frm,
		MaxFileSize:   cfg.Upload.MaxFileSize,
		AllowedTypes:  cfg.Upload.Extensions(),
		AutoUpload:    cfg.Upload.AutoUpload,
		URL:           cfg.Upload.URL,
		FileInputName: cfg.Upload.FileInputName,
		SaveOnUpload:  cfg.Upload.SaveOnUpload,
		OnSaved: func(r form.Regions) {
			changed := pg.Apply(r)
			logger.Printf("Applied saved form: %d elements refreshed", changed)
		},
		Metrics: adapter.NewMetrics(b.registry),
		Logger:  logging.WithPrefix(logger, "adapter"),
	})
	if err != nil {
		return nil, err
	}
	b.uploader.Bind(b.adapter)
	return b, nil
}

func buildPageAndForm(cfg config.Config, sel form.Selectors, opts form.Options) (*page.Page, *form.Form, error) {
	if cfg.Form.Page == "" {
		fields := make(map[string]string, len(opts.Fields)+1)
		for k, v := range opts.Fields {
			fields[k] = v
		}
		if _, ok := fields[cfg.Upload.FileInputName]; !ok {
			fields[cfg.Upload.FileInputName] = ""
		}
		opts.Fields = fields
		return page.Blank(cfg.Upload.FileListElement, sel), form.New(opts), nil
	}

	pg, err := page.LoadFile(cfg.Form.Page, sel)
	if err != nil {
		return nil, nil, err
	}
	frm, err := pg.Form(cfg.Form.Selector, opts)
	if err != nil {
		return nil, nil, err
	}
	return pg, frm, nil
}

func (b *batch) server(cfg config.Config, opts Options, logger logging.Logger) (*httpserver.Server, error) {
	port := cfg.Server.Port
	if port == "" {
		port = defaultStatusPort
	}
	router := apiv1.NewRouter(apiv1.Options{
		Logger:       logger,
		Page:         b.page,
		ListSelector: cfg.Upload.FileListElement,
		Status:       b.list,
		Files:        b.adapter.Files,
		Gatherer:     b.registry,
		RuntimeInfo: apiv1.RuntimeInfo{
			Name:        "uploader",
			Addr:        cfg.Server.Addr,
			Port:        port,
			ReadTimeout: opts.ReadTimeout.String(),
			UploadURL:   cfg.Upload.URL,
			MaxFileSize: widget.FormatSize(cfg.Upload.MaxFileSize),
			AutoUpload:  cfg.Upload.AutoUpload,
		},
	})
	return httpserver.New(httpserver.Config{
		Addr:        cfg.Server.Addr,
		Port:        port,
		ReadTimeout: opts.ReadTimeout,
		Logger:      logger,
		Handler:     router,
	})
}

func (b *batch) queue(paths []string) error {
	files := make([]*widget.File, 0, len(paths))
	for _, path := range paths {
		f, err := widget.FileFromPath(path)
		if err != nil {
			return fmt.Errorf("queue file: %w", err)
		}
		files = append(files, f)
	}
	b.uploader.AddFiles(files...)
	return nil
}

// start begins the queue. In manual mode the form submission starts it, so
// the form is submitted and the interceptor's cancellation is expected.
func (b *batch) start(ctx context.Context, auto bool) error {
	if auto {
		return nil
	}
	_, err := b.form.Submit(ctx)
	if err == nil || errors.Is(err, form.ErrSubmitCancelled) {
		return nil
	}
	return fmt.Errorf("submit form: %w", err)
}

// stop halts the queue and gives the interrupted file a moment to go back to
// the queue before the result is read.
func (b *batch) stop() {
	b.uploader.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()
	if err := b.uploader.Wait(ctx); err != nil {
		b.logger.Printf("queue did not stop within %s", stopGrace)
	}
}

func (b *batch) result() Result {
	return Result{
		Values: b.form.Values(),
		Files:  b.adapter.Files(),
		Rows:   b.list.Rows(),
		Errors: b.list.Errors(),
	}
}

func (o Options) withDefaults() Options {
	if o.ConfigPath == "" {
		o.ConfigPath = defaultConfigPath
	}
	if o.EnvFile == "" {
		o.EnvFile = filepath.Join(filepath.Dir(o.ConfigPath), ".env")
	}
	if o.LogDir == "" {
		o.LogDir = defaultLogDir
	}
	if o.LogFile == "" {
		o.LogFile = defaultLogFileName
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultReadTimeout
	}
	return o
}
