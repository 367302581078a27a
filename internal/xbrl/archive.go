package xbrl

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/call-report/data-collector/internal/model"
)

// DefaultMemberMarker selects the per-entity members of a bulk archive.
const DefaultMemberMarker = "RSSD"

// Archive statuses.
const (
	StatusOK               = "ok"
	StatusNoData           = "no_data"
	StatusExtractionFailed = "extraction_failed"
)

// Options configures archive extraction.
type Options struct {
	// Workers bounds concurrent member parsing; <= 0 means GOMAXPROCS.
	Workers int
	// MemberMarker must appear in a member name for it to be processed.
	MemberMarker string
}

// MemberFailure records a member that could not be read at all.
type MemberFailure struct {
	Member string `json:"member"`
	Error  string `json:"error"`
}

// ArchiveResult is the outcome of extracting a bulk archive. Observations
// keep archive member order.
type ArchiveResult struct {
	Observations   []model.Observation `json:"-"`
	MembersMatched int                 `json:"members_matched"`
	MembersFailed  int                 `json:"members_failed"`
	Failures       []MemberFailure     `json:"failures,omitempty"`
	Stats          Stats               `json:"stats"`
}

// Status distinguishes an archive with nothing to extract from one whose
// extraction broke.
func (r *ArchiveResult) Status() string {
	switch {
	case r.MembersMatched == 0:
		return StatusNoData
	case r.MembersFailed == r.MembersMatched:
		return StatusExtractionFailed
	case r.Stats.Extracted == 0 && r.Stats.Skipped > 0:
		return StatusExtractionFailed
	case r.Stats.Extracted == 0:
		return StatusNoData
	}
	return StatusOK
}

// ExtractFile opens a zip archive on disk and extracts it.
func ExtractFile(ctx context.Context, path string, opts Options) (*ArchiveResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return ExtractArchive(ctx, f, info.Size(), opts)
}

// ExtractBytes extracts an in-memory zip archive.
func ExtractBytes(ctx context.Context, data []byte, opts Options) (*ArchiveResult, error) {
	return ExtractArchive(ctx, bytes.NewReader(data), int64(len(data)), opts)
}

// ExtractArchive parses every matching XML member on a bounded worker pool.
// A member that fails is recorded and skipped; only an unreadable archive or
// a cancelled context is an error.
func ExtractArchive(ctx context.Context, ra io.ReaderAt, size int64, opts Options) (*ArchiveResult, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	if opts.MemberMarker == "" {
		opts.MemberMarker = DefaultMemberMarker
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}

	var members []*zip.File
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".xml") && strings.Contains(f.Name, opts.MemberMarker) {
			members = append(members, f)
		}
	}

	extractions := make([]*Extraction, len(members))
	failures := make([]error, len(members))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, f := range members {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ext, err := extractMember(f)
			if err != nil {
				failures[i] = err
				return nil
			}
			extractions[i] = ext
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &ArchiveResult{MembersMatched: len(members)}
	for i, f := range members {
		if failures[i] != nil {
			res.MembersFailed++
			res.Failures = append(res.Failures, MemberFailure{Member: f.Name, Error: failures[i].Error()})
			slog.Warn("skipping archive member", "member", f.Name, "err", failures[i])
			continue
		}
		res.Observations = append(res.Observations, extractions[i].Observations...)
		res.Stats.Add(extractions[i].Stats)
	}
	slog.Debug("archive extracted",
		"members", res.MembersMatched,
		"failed", res.MembersFailed,
		"observations", len(res.Observations),
		"skipped", res.Stats.Skipped,
	)
	return res, nil
}

func extractMember(f *zip.File) (*Extraction, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return ExtractDocument(rc)
}

// Summary converts the result into its persisted telemetry record.
func (r *ArchiveResult) Summary(source string, at time.Time) model.ExtractionSummary {
	return model.ExtractionSummary{
		Source:         source,
		Status:         r.Status(),
		MembersMatched: r.MembersMatched,
		MembersFailed:  r.MembersFailed,
		Elements:       r.Stats.Elements,
		Extracted:      r.Stats.Extracted,
		Skipped:        r.Stats.Skipped,
		SkipReasons:    r.Stats.SkipReasons,
		ExtractedAt:    at.UTC(),
	}
}
