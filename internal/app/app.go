// Package app wires together configuration, the portal session, drift
// baselines, and the local store into a single Deps struct that commands
// receive at runtime.
package app

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/call-report/data-collector/internal/collector"
	"github.com/call-report/data-collector/internal/config"
	"github.com/call-report/data-collector/internal/drift"
	"github.com/call-report/data-collector/internal/portal"
	"github.com/call-report/data-collector/internal/store"
	"github.com/call-report/data-collector/internal/xbrl"
)

// Deps holds all runtime dependencies injected into command Run functions.
// Store is nil until RequireStore is called; commands that never touch the
// database never open it.
//
// Limiter paces every portal request of the run: the drift fetcher and all
// protocol clients draw from the same budget.
type Deps struct {
	Config  *config.Config
	Fetcher *portal.PageFetcher
	Limiter *rate.Limiter
	Store   *store.Store
}

// New builds a Deps from resolved config.
func New(cfg *config.Config) (*Deps, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limiter := portal.NewLimiter(cfg.Rate)
	fetcher, err := portal.NewPageFetcher(SessionOptions(cfg), limiter)
	if err != nil {
		return nil, err
	}
	return &Deps{Config: cfg, Fetcher: fetcher, Limiter: limiter}, nil
}

// SessionOptions maps config onto the portal session settings.
func SessionOptions(cfg *config.Config) portal.SessionOptions {
	return portal.SessionOptions{Timeout: cfg.Timeout, Retries: cfg.Retries}
}

// RequireStore opens the bbolt database at Config.DBPath.
func (d *Deps) RequireStore() error {
	if d.Store != nil {
		return nil
	}
	s, err := store.Open(d.Config.DBPath)
	if err != nil {
		return fmt.Errorf("opening local database: %w", err)
	}
	d.Store = s
	return nil
}

// Close releases the store if it was opened.
func (d *Deps) Close() {
	if d.Store != nil {
		_ = d.Store.Close()
		d.Store = nil
	}
}

// NewClient builds a fresh protocol client with its own session. Its
// requests count against the shared Limiter.
func (d *Deps) NewClient() (*portal.Client, error) {
	return portal.New(portal.Options{
		BaseURL:     d.Config.BaseURL,
		DownloadDir: d.Config.DownloadDir,
		Rate:        d.Config.Rate,
		Session:     SessionOptions(d.Config),
		Limiter:     d.Limiter,
	})
}

// Baselines returns the configured fingerprint store: YAML files under
// ThumbprintDir, or the baselines bucket of the local database.
func (d *Deps) Baselines() (drift.BaselineStore, error) {
	if d.Config.Baselines == config.BaselinesDB {
		if err := d.RequireStore(); err != nil {
			return nil, err
		}
		return d.Store.Baselines(), nil
	}
	return drift.NewFileStore(d.Config.ThumbprintDir)
}

// Validator builds a drift validator over the known pages. The bulk
// download entry follows Config.BaseURL.
func (d *Deps) Validator() (*drift.Validator, error) {
	baselines, err := d.Baselines()
	if err != nil {
		return nil, err
	}
	return drift.NewValidator(d.Fetcher, baselines, d.Pages()), nil
}

// Pages returns the known page catalogue with the bulk download URL taken
// from config.
func (d *Deps) Pages() []drift.Page {
	pages := make([]drift.Page, len(drift.KnownPages))
	copy(pages, drift.KnownPages)
	for i := range pages {
		if pages[i].Category == drift.CategoryBulkDownload {
			pages[i].URL = d.Config.BaseURL
		}
	}
	return pages
}

// Collector builds the orchestrator. Download and extraction telemetry is
// recorded in the local database.
func (d *Deps) Collector() (*collector.Collector, error) {
	v, err := d.Validator()
	if err != nil {
		return nil, err
	}
	if err := d.RequireStore(); err != nil {
		return nil, err
	}
	newClient := func() (collector.Downloader, error) { return d.NewClient() }
	return collector.New(newClient, v, d.Store, collector.Options{
		PageURL:        d.Config.BaseURL,
		SkipValidation: d.Config.SkipValidation,
		Concurrency:    d.Config.Concurrency,
		Extract:        xbrl.Options{Workers: d.Config.Concurrency},
	}), nil
}
