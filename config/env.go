package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override values from config.json. Secrets such
// as the signing endpoint usually arrive this way rather than in the file.
const (
	EnvUploadURL      = "UPLOADER_URL"
	EnvSignatureURL   = "UPLOADER_SIGNATURE_URL"
	EnvMaxFileSize    = "UPLOADER_MAX_FILE_SIZE"
	EnvAllowedTypes   = "UPLOADER_ALLOWED_TYPES"
	EnvAutoUpload     = "UPLOADER_AUTO_UPLOAD"
	EnvSaveOnUpload   = "UPLOADER_SAVE_ON_UPLOAD"
	EnvTimeoutSeconds = "UPLOADER_TIMEOUT_SECONDS"
	EnvFormAction     = "UPLOADER_FORM_ACTION"
	EnvServerPort     = "UPLOADER_SERVER_PORT"
)

// LoadEnvFile exports the variables in a dotenv file without overriding ones
// already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	up := &c.Upload
	up.URL = envOr(EnvUploadURL, up.URL)
	up.SignatureURL = envOr(EnvSignatureURL, up.SignatureURL)
	up.MaxFileSize = envInt64Or(EnvMaxFileSize, up.MaxFileSize)
	up.AllowedTypes = envOr(EnvAllowedTypes, up.AllowedTypes)
	up.AutoUpload = envBoolOr(EnvAutoUpload, up.AutoUpload)
	up.SaveOnUpload = envBoolOr(EnvSaveOnUpload, up.SaveOnUpload)
	up.TimeoutSeconds = envIntOr(EnvTimeoutSeconds, up.TimeoutSeconds)
	c.Form.Action = envOr(EnvFormAction, c.Form.Action)
	c.Server.Port = envOr(EnvServerPort, c.Server.Port)
}

func envOr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func envInt64Or(key string, fallback int64) int64 {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}
