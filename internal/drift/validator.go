package drift

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const firstRunWarning = "First run - thumbprint saved"

// Fetcher returns the body of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Result is the outcome of validating one page.
type Result struct {
	Category      string    `json:"category"`
	URL           string    `json:"url"`
	Valid         bool      `json:"valid"`
	FirstRun      bool      `json:"first_run,omitempty"`
	Warnings      []string  `json:"warnings,omitempty"`
	Critical      []string  `json:"critical,omitempty"`
	CurrentHash   string    `json:"current_hash,omitempty"`
	StoredHash    string    `json:"stored_hash,omitempty"`
	LastValidated time.Time `json:"last_validated,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Validator compares fresh captures against stored baselines. It does not
// serialize validations of the same category; callers sharing a store must.
type Validator struct {
	fetcher Fetcher
	store   BaselineStore
	pages   []Page
	now     func() time.Time
}

// NewValidator uses pages as its catalogue, KnownPages when nil.
func NewValidator(fetcher Fetcher, store BaselineStore, pages []Page) *Validator {
	if pages == nil {
		pages = KnownPages
	}
	return &Validator{fetcher: fetcher, store: store, pages: pages, now: time.Now}
}

// Pages returns the validator's catalogue.
func (v *Validator) Pages() []Page { return v.pages }

// Capture fetches url and fingerprints it without touching the baseline.
func (v *Validator) Capture(ctx context.Context, url, category string) (*Fingerprint, error) {
	body, err := v.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("capturing %s: %w", category, err)
	}
	return CaptureHTML(url, category, body, v.now())
}

// Validate captures url and checks it against the baseline of category.
// With no baseline, the capture becomes the baseline. On critical drift the
// Result is returned together with a *ChangedError and the baseline is left
// untouched.
func (v *Validator) Validate(ctx context.Context, url, category string) (*Result, error) {
	current, err := v.Capture(ctx, url, category)
	if err != nil {
		return nil, err
	}
	res := &Result{Category: category, URL: url, CurrentHash: current.Hash}

	stored, found, err := v.store.Load(category)
	if err != nil {
		return nil, err
	}
	if !found {
		if err := v.store.Save(category, current); err != nil {
			return nil, fmt.Errorf("saving baseline: %w", err)
		}
		slog.Info("drift baseline saved", "category", category, "hash", current.Hash)
		res.Valid = true
		res.FirstRun = true
		res.Warnings = []string{firstRunWarning}
		res.LastValidated = current.CapturedAt
		return res, nil
	}

	diff := Compare(stored, current)
	res.StoredHash = stored.Hash
	res.LastValidated = stored.CapturedAt
	res.Warnings = append(diff.Advisory, v.missingExpected(category, current)...)
	res.Critical = diff.Critical
	res.Valid = len(diff.Critical) == 0

	for _, w := range res.Warnings {
		slog.Warn("drift advisory", "category", category, "warning", w)
	}
	if !res.Valid {
		return res, &ChangedError{Category: category, URL: url, Changes: diff.Critical}
	}
	return res, nil
}

// ValidateAll validates every catalogue page. Failures become per-page
// entries with Error set; the batch never aborts.
func (v *Validator) ValidateAll(ctx context.Context) []Result {
	results := make([]Result, 0, len(v.pages))
	for _, p := range v.pages {
		res, err := v.Validate(ctx, p.URL, p.Category)
		if res == nil {
			res = &Result{Category: p.Category, URL: p.URL}
		}
		if err != nil {
			res.Valid = false
			res.Error = err.Error()
			if !errors.Is(err, ErrWebpageChanged) {
				slog.Warn("drift validation failed", "category", p.Category, "err", err)
			}
		}
		results = append(results, *res)
	}
	return results
}

// Recapture overwrites the baseline of category with a fresh capture. It is
// the only way a baseline is replaced after the first run.
func (v *Validator) Recapture(ctx context.Context, url, category string) (*Fingerprint, error) {
	fp, err := v.Capture(ctx, url, category)
	if err != nil {
		return nil, err
	}
	if err := v.store.Save(category, fp); err != nil {
		return nil, fmt.Errorf("saving baseline: %w", err)
	}
	slog.Info("drift baseline replaced", "category", category, "hash", fp.Hash)
	return fp, nil
}

func (v *Validator) missingExpected(category string, fp *Fingerprint) []string {
	page, ok := LookupPage(v.pages, category)
	if !ok || len(page.ExpectedIDs) == 0 {
		return nil
	}
	ids := map[string]bool{}
	for _, e := range fp.FormElements {
		ids[e.ID] = true
	}
	var out []string
	for _, id := range page.ExpectedIDs {
		if !ids[id] {
			out = append(out, fmt.Sprintf("Expected element %s not found", id))
		}
	}
	return out
}
