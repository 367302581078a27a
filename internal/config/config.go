// Package config handles loading and resolving collector configuration.
// Resolution order (first non-empty value wins):
//  1. CLI flag --base-url
//  2. Environment variables FFIEC_BASE_URL, FFIEC_DOWNLOAD_DIR, FFIEC_DB_PATH,
//     FFIEC_THUMBPRINT_DIR
//  3. config.json in the current working directory
//  4. Built-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultConfigFile  = "config.json"
	DefaultFormat      = "table"
	DefaultTimeout     = 2 * time.Minute
	DefaultConcurrency = 4
	DefaultRate        = 1.0
	DefaultRetries     = 3
	DefaultBaseURL     = "https://cdr.ffiec.gov/public/pws/downloadbulkdata.aspx"

	BaselinesFile = "file"
	BaselinesDB   = "db"

	EnvBaseURL       = "FFIEC_BASE_URL"
	EnvDownloadDir   = "FFIEC_DOWNLOAD_DIR"
	EnvDBPath        = "FFIEC_DB_PATH"
	EnvThumbprintDir = "FFIEC_THUMBPRINT_DIR"
)

// File is the on-disk representation of config.json.
type File struct {
	DefaultFormat  string  `json:"default_format"`
	Timeout        string  `json:"timeout"`
	Concurrency    int     `json:"concurrency"`
	Rate           float64 `json:"rate"`
	Retries        *int    `json:"retries,omitempty"`
	BaseURL        string  `json:"base_url"`
	DownloadDir    string  `json:"download_dir"`
	ThumbprintDir  string  `json:"thumbprint_dir"`
	DBPath         string  `json:"db_path"`
	Baselines      string  `json:"baselines"`
	SkipValidation bool    `json:"skip_validation"`
}

// Config is the fully-resolved runtime configuration.
// All callers use this struct; the File is only read during loading.
type Config struct {
	Format         string
	Timeout        time.Duration
	Concurrency    int
	Rate           float64
	Retries        int
	BaseURL        string
	DownloadDir    string
	ThumbprintDir  string
	DBPath         string
	Baselines      string // "file" or "db"
	SkipValidation bool
	ConfigPath     string // path of the config.json that was loaded (empty if none found)

	// Runtime overrides set from CLI flags after Load()
	Quiet   bool
	Verbose bool
	Debug   bool
}

// Load resolves configuration from all sources.
// flagBaseURL is the value of --base-url (empty string if not set).
func Load(flagBaseURL string) (*Config, error) {
	cfg := &Config{
		Format:      DefaultFormat,
		Timeout:     DefaultTimeout,
		Concurrency: DefaultConcurrency,
		Rate:        DefaultRate,
		Retries:     DefaultRetries,
		BaseURL:     DefaultBaseURL,
		Baselines:   BaselinesFile,
	}

	// Layer 1: config.json (lowest priority)
	f, path, err := loadFile()
	if err == nil {
		applyFile(cfg, f, path)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Layer 2: environment variables
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv(EnvDownloadDir); v != "" {
		cfg.DownloadDir = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvThumbprintDir); v != "" {
		cfg.ThumbprintDir = v
	}

	// Layer 3: CLI flag (highest priority)
	if flagBaseURL != "" {
		cfg.BaseURL = flagBaseURL
	}

	// Home-relative defaults for anything still unset
	if cfg.DBPath == "" || cfg.ThumbprintDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			if cfg.DBPath == "" {
				cfg.DBPath = filepath.Join(home, ".ffiec", "ffiec.db")
			}
			if cfg.ThumbprintDir == "" {
				cfg.ThumbprintDir = filepath.Join(home, ".ffiec", "thumbprints")
			}
		}
	}
	if cfg.DownloadDir == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.DownloadDir = wd
		}
	}

	return cfg, nil
}

// Validate returns an error for values no command can run with.
func (c *Config) Validate() error {
	if c.Baselines != BaselinesFile && c.Baselines != BaselinesDB {
		return fmt.Errorf("baselines must be %q or %q, got %q", BaselinesFile, BaselinesDB, c.Baselines)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries cannot be negative, got %d", c.Retries)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is empty")
	}
	return nil
}

// loadFile attempts to read config.json from the current working directory.
// A missing file is reported with an error satisfying os.IsNotExist.
func loadFile() (*File, string, error) {
	path, err := filepath.Abs(DefaultConfigFile)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("reading config.json: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, "", fmt.Errorf("parsing %s: %w", path, err)
	}
	return &f, path, nil
}

// applyFile copies values from a parsed File into cfg,
// skipping any fields that are zero/empty.
func applyFile(cfg *Config, f *File, path string) {
	cfg.ConfigPath = path
	if f.DefaultFormat != "" {
		cfg.Format = f.DefaultFormat
	}
	if f.Timeout != "" {
		if d, err := time.ParseDuration(f.Timeout); err == nil {
			cfg.Timeout = d
		}
	}
	if f.Concurrency > 0 {
		cfg.Concurrency = f.Concurrency
	}
	if f.Rate > 0 {
		cfg.Rate = f.Rate
	}
	if f.Retries != nil {
		cfg.Retries = *f.Retries
	}
	if f.BaseURL != "" {
		cfg.BaseURL = f.BaseURL
	}
	if f.DownloadDir != "" {
		cfg.DownloadDir = f.DownloadDir
	}
	if f.ThumbprintDir != "" {
		cfg.ThumbprintDir = f.ThumbprintDir
	}
	if f.DBPath != "" {
		cfg.DBPath = f.DBPath
	}
	if f.Baselines != "" {
		cfg.Baselines = f.Baselines
	}
	if f.SkipValidation {
		cfg.SkipValidation = true
	}
}

// Template returns a File populated with sensible defaults, suitable for
// writing an initial config.json via `ffiec config init`.
func Template() File {
	retries := DefaultRetries
	return File{
		DefaultFormat: DefaultFormat,
		Timeout:       "2m",
		Concurrency:   DefaultConcurrency,
		Rate:          DefaultRate,
		Retries:       &retries,
		BaseURL:       DefaultBaseURL,
		Baselines:     BaselinesFile,
	}
}

// WriteFile serialises a File to the given path.
func WriteFile(path string, f File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0600)
}
