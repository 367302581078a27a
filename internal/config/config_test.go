package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/call-report/data-collector/internal/config"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

// chdir changes the working directory to dir for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(orig) })
}

// writeConfig writes a config.json into dir and changes the working directory
// to dir for the duration of the test.
func writeConfig(t *testing.T, dir string, f config.File) {
	t.Helper()
	if err := config.WriteFile(filepath.Join(dir, "config.json"), f); err != nil {
		t.Fatalf("write config: %v", err)
	}
	chdir(t, dir)
}

// clearEnv unsets every FFIEC_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(config.EnvBaseURL, "")
	t.Setenv(config.EnvDownloadDir, "")
	t.Setenv(config.EnvDBPath, "")
	t.Setenv(config.EnvThumbprintDir, "")
}

func intPtr(n int) *int { return &n }

// ─── Defaults ─────────────────────────────────────────────────────────────────

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)
	chdir(t, dir)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Format != config.DefaultFormat {
		t.Errorf("Format: expected %q, got %q", config.DefaultFormat, cfg.Format)
	}
	if cfg.Timeout != config.DefaultTimeout {
		t.Errorf("Timeout: expected %v, got %v", config.DefaultTimeout, cfg.Timeout)
	}
	if cfg.Concurrency != config.DefaultConcurrency {
		t.Errorf("Concurrency: expected %d, got %d", config.DefaultConcurrency, cfg.Concurrency)
	}
	if cfg.Rate != config.DefaultRate {
		t.Errorf("Rate: expected %g, got %g", config.DefaultRate, cfg.Rate)
	}
	if cfg.Retries != config.DefaultRetries {
		t.Errorf("Retries: expected %d, got %d", config.DefaultRetries, cfg.Retries)
	}
	if cfg.BaseURL != config.DefaultBaseURL {
		t.Errorf("BaseURL: expected %q, got %q", config.DefaultBaseURL, cfg.BaseURL)
	}
	if cfg.Baselines != config.BaselinesFile {
		t.Errorf("Baselines: expected file, got %q", cfg.Baselines)
	}
	if cfg.SkipValidation {
		t.Error("SkipValidation should default to false")
	}
	if cfg.DBPath == "" || cfg.ThumbprintDir == "" {
		t.Error("DBPath and ThumbprintDir should have home dir based defaults")
	}
	if cfg.DownloadDir == "" {
		t.Error("DownloadDir should default to the working directory")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

// ─── Config file loading ──────────────────────────────────────────────────────

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)
	writeConfig(t, dir, config.File{
		DefaultFormat:  "json",
		Timeout:        "60s",
		Concurrency:    2,
		Rate:           0.5,
		Retries:        intPtr(0),
		BaseURL:        "https://portal.example.com/bulk.aspx",
		DownloadDir:    "/data/downloads",
		ThumbprintDir:  "/data/thumbprints",
		DBPath:         "/data/ffiec.db",
		Baselines:      "db",
		SkipValidation: true,
	})

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Format != "json" {
		t.Errorf("Format: expected json, got %q", cfg.Format)
	}
	if cfg.Timeout.String() != "1m0s" {
		t.Errorf("Timeout: expected 1m0s, got %q", cfg.Timeout.String())
	}
	if cfg.Concurrency != 2 {
		t.Errorf("Concurrency: expected 2, got %d", cfg.Concurrency)
	}
	if cfg.Rate != 0.5 {
		t.Errorf("Rate: expected 0.5, got %g", cfg.Rate)
	}
	if cfg.Retries != 0 {
		t.Errorf("Retries: an explicit 0 must disable retries, got %d", cfg.Retries)
	}
	if cfg.BaseURL != "https://portal.example.com/bulk.aspx" {
		t.Errorf("BaseURL: expected custom URL, got %q", cfg.BaseURL)
	}
	if cfg.DownloadDir != "/data/downloads" || cfg.ThumbprintDir != "/data/thumbprints" || cfg.DBPath != "/data/ffiec.db" {
		t.Errorf("paths not applied: %+v", cfg)
	}
	if cfg.Baselines != "db" {
		t.Errorf("Baselines: expected db, got %q", cfg.Baselines)
	}
	if !cfg.SkipValidation {
		t.Error("SkipValidation: expected true")
	}
	if !strings.HasSuffix(cfg.ConfigPath, "config.json") {
		t.Errorf("ConfigPath should end in config.json, got %q", cfg.ConfigPath)
	}
}

func TestLoadOmittedRetriesKeepsDefault(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)
	writeConfig(t, dir, config.File{Concurrency: 3})

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retries != config.DefaultRetries {
		t.Errorf("Retries: expected default %d, got %d", config.DefaultRetries, cfg.Retries)
	}
}

func TestLoadNoConfigFile(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load without config.json should not error: %v", err)
	}
	if cfg.ConfigPath != "" {
		t.Errorf("ConfigPath should be empty when no file found, got %q", cfg.ConfigPath)
	}
}

func TestLoadMalformedFileErrors(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	chdir(t, dir)

	if _, err := config.Load(""); err == nil {
		t.Error("expected error for malformed config.json")
	}
}

func TestLoadInvalidTimeoutIgnored(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)
	writeConfig(t, dir, config.File{Timeout: "not-a-duration"})

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timeout != config.DefaultTimeout {
		t.Errorf("invalid timeout should use default %v, got %v", config.DefaultTimeout, cfg.Timeout)
	}
}

// ─── Environment variable priority ───────────────────────────────────────────

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, config.File{
		BaseURL:       "https://file.example.com/",
		DownloadDir:   "/file/downloads",
		DBPath:        "/file/ffiec.db",
		ThumbprintDir: "/file/thumbprints",
	})
	t.Setenv(config.EnvBaseURL, "https://env.example.com/")
	t.Setenv(config.EnvDownloadDir, "/env/downloads")
	t.Setenv(config.EnvDBPath, "/env/ffiec.db")
	t.Setenv(config.EnvThumbprintDir, "/env/thumbprints")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "https://env.example.com/" {
		t.Errorf("FFIEC_BASE_URL should override file, got %q", cfg.BaseURL)
	}
	if cfg.DownloadDir != "/env/downloads" {
		t.Errorf("FFIEC_DOWNLOAD_DIR should override file, got %q", cfg.DownloadDir)
	}
	if cfg.DBPath != "/env/ffiec.db" {
		t.Errorf("FFIEC_DB_PATH should override file, got %q", cfg.DBPath)
	}
	if cfg.ThumbprintDir != "/env/thumbprints" {
		t.Errorf("FFIEC_THUMBPRINT_DIR should override file, got %q", cfg.ThumbprintDir)
	}
}

// ─── CLI flag priority ────────────────────────────────────────────────────────

func TestLoadFlagBaseURLOverridesEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)
	writeConfig(t, dir, config.File{BaseURL: "https://file.example.com/"})
	t.Setenv(config.EnvBaseURL, "https://env.example.com/")

	cfg, err := config.Load("https://flag.example.com/")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "https://flag.example.com/" {
		t.Errorf("flag --base-url should win, got %q", cfg.BaseURL)
	}
}

func TestLoadFlagEmptyDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)
	writeConfig(t, dir, config.File{BaseURL: "https://file.example.com/"})

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "https://file.example.com/" {
		t.Errorf("empty flag should not override file value, got %q", cfg.BaseURL)
	}
}

// ─── Validate ─────────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	good := config.Config{BaseURL: "u", Baselines: "file", Concurrency: 1}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}

	cases := map[string]func(c *config.Config){
		"baselines":   func(c *config.Config) { c.Baselines = "s3" },
		"concurrency": func(c *config.Config) { c.Concurrency = 0 },
		"retries":     func(c *config.Config) { c.Retries = -1 },
		"base url":    func(c *config.Config) { c.BaseURL = "" },
	}
	for name, mutate := range cases {
		c := good
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

// ─── WriteFile / Template ─────────────────────────────────────────────────────

func TestWriteFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	f := config.File{
		DefaultFormat: "csv",
		Timeout:       "45s",
		Concurrency:   6,
		Rate:          3.0,
		Retries:       intPtr(1),
		DBPath:        "/data/ffiec.db",
		Baselines:     "db",
	}
	if err := config.WriteFile(path, f); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var got config.File
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if got.DefaultFormat != f.DefaultFormat || got.Timeout != f.Timeout || got.Concurrency != f.Concurrency {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Retries == nil || *got.Retries != 1 {
		t.Errorf("Retries: expected 1, got %v", got.Retries)
	}
	if got.Baselines != "db" || got.DBPath != f.DBPath {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestWriteFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := config.WriteFile(path, config.Template()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("file permissions: expected 0600, got %04o", info.Mode().Perm())
	}
}

func TestTemplateDefaults(t *testing.T) {
	tmpl := config.Template()

	if tmpl.DefaultFormat != "table" {
		t.Errorf("Template.DefaultFormat: expected table, got %q", tmpl.DefaultFormat)
	}
	if d, err := time.ParseDuration(tmpl.Timeout); err != nil || d != config.DefaultTimeout {
		t.Errorf("Template.Timeout: expected %v, got %q", config.DefaultTimeout, tmpl.Timeout)
	}
	if tmpl.Retries == nil || *tmpl.Retries != config.DefaultRetries {
		t.Errorf("Template.Retries: expected %d", config.DefaultRetries)
	}
	if tmpl.Baselines != config.BaselinesFile {
		t.Errorf("Template.Baselines: expected file, got %q", tmpl.Baselines)
	}
	if !strings.HasPrefix(tmpl.BaseURL, "https://") {
		t.Errorf("Template.BaseURL should be an https URL, got %q", tmpl.BaseURL)
	}
}
