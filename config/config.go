package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
)

const (
	defaultAddr            = "127.0.0.1"
	defaultFileDataName    = "file"
	defaultFileListElement = "#filelist"
	defaultMethod          = "POST"
	defaultFormSelector    = "form"
	defaultCatalogSelector = ".catalog"
	defaultTimeoutSeconds  = 30
)

// UploadConfig mirrors the settings handed to the upload widget.
type UploadConfig struct {
	FileListElement string `json:"filelistelement"`
	MaxFileSize     int64  `json:"max_file_size"`
	AllowedTypes    string `json:"allowed_types"`
	AutoUpload      bool   `json:"auto_upload"`
	URL             string `json:"url"`
	FileInputName   string `json:"file_input_name"`
	FileDataName    string `json:"file_data_name"`
	SignatureURL    string `json:"signature_url"`
	SaveOnUpload    bool   `json:"save_on_upload"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
}

// Extensions splits AllowedTypes ("jpg,png, .PDF") into lower-case
// extensions without the dot. Nil means every type is allowed.
func (u UploadConfig) Extensions() []string {
	var exts []string
	for _, part := range strings.Split(u.AllowedTypes, ",") {
		ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(part), "."))
		if ext != "" {
			exts = append(exts, ext)
		}
	}
	return exts
}

// FormConfig describes the form that receives the uploaded file URL.
type FormConfig struct {
	Action          string            `json:"action"`
	Method          string            `json:"method"`
	Fields          map[string]string `json:"fields"`
	Page            string            `json:"page"`
	Selector        string            `json:"selector"`
	CatalogSelector string            `json:"catalog_selector"`
	PreviewSelector string            `json:"preview_selector"`
}

// ServerConfig configures the optional status server. An empty port disables it.
type ServerConfig struct {
	Addr string `json:"addr"`
	Port string `json:"port"`
}

// Config represents the combined runtime settings parsed from config.json.
type Config struct {
	Upload UploadConfig `json:"upload"`
	Form   FormConfig   `json:"form"`
	Server ServerConfig `json:"server"`
}

// MustLoad is Load for callers that cannot continue without configuration.
func MustLoad(path string) Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

// Load reads the JSON config at the given path, applies UPLOADER_*
// environment overrides, then defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	up := &c.Upload
	if strings.TrimSpace(up.FileListElement) == "" {
		up.FileListElement = defaultFileListElement
	}
	if up.FileDataName == "" {
		up.FileDataName = defaultFileDataName
	}
	if up.TimeoutSeconds <= 0 {
		up.TimeoutSeconds = defaultTimeoutSeconds
	}

	form := &c.Form
	if form.Method == "" {
		form.Method = defaultMethod
	}
	form.Method = strings.ToUpper(form.Method)
	if form.Selector == "" {
		form.Selector = defaultFormSelector
	}
	if form.CatalogSelector == "" {
		form.CatalogSelector = defaultCatalogSelector
	}
	if form.PreviewSelector == "" && up.FileInputName != "" {
		form.PreviewSelector = "#id_" + up.FileInputName + "_preview"
	}
	if form.Fields == nil {
		form.Fields = map[string]string{}
	}

	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Upload.URL) == "" {
		return fmt.Errorf("config: upload.url is required")
	}
	if strings.TrimSpace(c.Upload.SignatureURL) == "" {
		return fmt.Errorf("config: upload.signature_url is required")
	}
	if strings.TrimSpace(c.Upload.FileInputName) == "" {
		return fmt.Errorf("config: upload.file_input_name is required")
	}
	if c.Upload.MaxFileSize < 0 {
		return fmt.Errorf("config: upload.max_file_size must not be negative")
	}
	return nil
}
