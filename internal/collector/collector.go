// Package collector sequences the drift check, the portal download and the
// XBRL extraction into one operation, and runs batches of them with one
// protocol client per job.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/call-report/data-collector/internal/drift"
	"github.com/call-report/data-collector/internal/model"
	"github.com/call-report/data-collector/internal/xbrl"
)

// Downloader is the slice of portal.Client the collector drives.
type Downloader interface {
	Download(ctx context.Context, product model.Product, period string, format model.FileFormat) (*model.DownloadResult, error)
	DownloadBytes(ctx context.Context, product model.Product, period string, format model.FileFormat) (*model.DownloadResult, error)
}

// Validator checks a page against its drift baseline.
type Validator interface {
	Validate(ctx context.Context, url, category string) (*drift.Result, error)
}

// Recorder persists download history and extraction telemetry.
type Recorder interface {
	RecordDownload(res *model.DownloadResult) error
	RecordExtraction(sum model.ExtractionSummary) error
}

// Options configures a Collector.
type Options struct {
	// PageURL is the bulk download page validated before downloading.
	PageURL        string
	SkipValidation bool
	Concurrency    int
	Extract        xbrl.Options
}

// Job is one (product, period, format) download. Period accepts MM/DD/YYYY,
// YYYYMMDD or "latest".
type Job struct {
	Product model.Product    `json:"product"`
	Period  string           `json:"period"`
	Format  model.FileFormat `json:"format"`
	// Save writes the file to the download directory; otherwise the
	// payload is kept in memory for extraction only.
	Save bool `json:"save"`
	// Extract parses the payload into observations. Requires XBRL.
	Extract bool `json:"extract"`
}

// Outcome is the caller-facing result of a Job.
type Outcome struct {
	Job        Job                      `json:"job"`
	Validation *drift.Result            `json:"validation,omitempty"`
	Download   *model.DownloadResult    `json:"download,omitempty"`
	Extraction *xbrl.ArchiveResult      `json:"extraction,omitempty"`
	Summary    *model.ExtractionSummary `json:"summary,omitempty"`
	Warnings   []string                 `json:"warnings,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

// Observations returns the extracted records, if any.
func (o *Outcome) Observations() []model.Observation {
	if o.Extraction == nil {
		return nil
	}
	return o.Extraction.Observations
}

// Collector composes the subsystems. Validations of the bulk download page
// are serialized so concurrent jobs never race on its baseline.
type Collector struct {
	newClient func() (Downloader, error)
	validator Validator
	recorder  Recorder
	opts      Options
	now       func() time.Time

	validateMu sync.Mutex
}

// New builds a Collector. newClient must return an independent client (own
// HTTP session) on every call. validator may be nil only when
// opts.SkipValidation is set; recorder may be nil.
func New(newClient func() (Downloader, error), validator Validator, recorder Recorder, opts Options) *Collector {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Collector{
		newClient: newClient,
		validator: validator,
		recorder:  recorder,
		opts:      opts,
		now:       time.Now,
	}
}

// Validate checks the bulk download page. A critical change is returned as
// a *drift.ChangedError together with the Result.
func (c *Collector) Validate(ctx context.Context) (*drift.Result, error) {
	if c.opts.SkipValidation {
		return nil, nil
	}
	if c.validator == nil {
		return nil, fmt.Errorf("drift validation enabled but no validator configured")
	}
	c.validateMu.Lock()
	defer c.validateMu.Unlock()
	return c.validator.Validate(ctx, c.opts.PageURL, drift.CategoryBulkDownload)
}

// Collect validates the portal, then runs job. Drift, protocol and sequence
// errors are returned; a response that was not a file is a normal Outcome
// with Download.Success=false.
func (c *Collector) Collect(ctx context.Context, job Job) (*Outcome, error) {
	res, err := c.Validate(ctx)
	out := &Outcome{Job: job, Validation: res}
	if err != nil {
		return out, fmt.Errorf("cannot proceed with download: %w", err)
	}
	if res != nil {
		out.Warnings = append(out.Warnings, res.Warnings...)
	}
	if err := c.run(ctx, out); err != nil {
		return out, err
	}
	return out, nil
}

// CollectMany validates once, then runs jobs concurrently, each on its own
// client. Job failures are reported on their Outcome; only a validation
// failure aborts the batch. Outcomes keep job order.
func (c *Collector) CollectMany(ctx context.Context, jobs []Job) ([]*Outcome, error) {
	res, err := c.Validate(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot proceed with download: %w", err)
	}
	var shared []string
	if res != nil {
		shared = res.Warnings
	}

	sem := make(chan struct{}, c.opts.Concurrency)
	outcomes := make([]*Outcome, len(jobs))
	var wg sync.WaitGroup

	for i, job := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			out := &Outcome{Job: job, Validation: res, Warnings: append([]string(nil), shared...)}
			if err := c.run(ctx, out); err != nil {
				out.Error = err.Error()
			}
			outcomes[i] = out
		}()
	}
	wg.Wait()
	return outcomes, nil
}

func (c *Collector) run(ctx context.Context, out *Outcome) error {
	job := out.Job
	if job.Extract && job.Format != model.XBRL {
		return fmt.Errorf("extraction requires the xbrl format, got %s", job.Format)
	}

	client, err := c.newClient()
	if err != nil {
		return err
	}

	var dl *model.DownloadResult
	if job.Save {
		dl, err = client.Download(ctx, job.Product, job.Period, job.Format)
	} else {
		dl, err = client.DownloadBytes(ctx, job.Product, job.Period, job.Format)
	}
	if err != nil {
		return err
	}
	out.Download = dl
	c.recordDownload(dl)
	if !dl.Success {
		out.Error = dl.Error
		return nil
	}
	if !job.Extract {
		return nil
	}

	var ext *xbrl.ArchiveResult
	if len(dl.Content) > 0 {
		ext, err = xbrl.ExtractBytes(ctx, dl.Content, c.opts.Extract)
	} else {
		ext, err = xbrl.ExtractFile(ctx, dl.FilePath, c.opts.Extract)
	}
	if err != nil {
		return fmt.Errorf("extracting %s: %w", dl.Filename, err)
	}
	out.Extraction = ext

	sum := ext.Summary(dl.Filename, c.now())
	sum.Product = dl.Product
	sum.Period = dl.Period
	out.Summary = &sum
	if sum.Status != xbrl.StatusOK {
		out.Warnings = append(out.Warnings, fmt.Sprintf("extraction status %s (%d of %d members failed, %d elements skipped)",
			sum.Status, sum.MembersFailed, sum.MembersMatched, sum.Skipped))
	}
	if c.recorder != nil {
		if err := c.recorder.RecordExtraction(sum); err != nil {
			slog.Warn("recording extraction failed", "source", sum.Source, "err", err)
		}
	}
	return nil
}

func (c *Collector) recordDownload(dl *model.DownloadResult) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordDownload(dl); err != nil {
		slog.Warn("recording download failed", "product", dl.Product, "period", dl.Period, "err", err)
	}
}
