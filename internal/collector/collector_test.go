package collector_test

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/call-report/data-collector/internal/collector"
	"github.com/call-report/data-collector/internal/drift"
	"github.com/call-report/data-collector/internal/model"
	"github.com/call-report/data-collector/internal/portal"
	"github.com/call-report/data-collector/internal/portal/portaltest"
	"github.com/call-report/data-collector/internal/xbrl"
)

// memRecorder keeps everything it is asked to record.
type memRecorder struct {
	mu          sync.Mutex
	downloads   []*model.DownloadResult
	extractions []model.ExtractionSummary
}

func (r *memRecorder) RecordDownload(res *model.DownloadResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloads = append(r.downloads, res)
	return nil
}

func (r *memRecorder) RecordExtraction(sum model.ExtractionSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractions = append(r.extractions, sum)
	return nil
}

func xbrlArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("Call_Cert3510_033124 ID RSSD 480228.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<xbrl xmlns:cc="urn:cc">` +
		`<cc:RCON2170 contextRef="CI_480228_2024-03-31" unitRef="USD">123000</cc:RCON2170>` +
		`<cc:RCON9804 contextRef="CI_480228_2024-03-31">true</cc:RCON9804>` +
		`</xbrl>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type harness struct {
	srv       *portaltest.Server
	store     *drift.FileStore
	recorder  *memRecorder
	collector *collector.Collector
}

func newHarness(t *testing.T, skipValidation bool) *harness {
	t.Helper()
	srv := portaltest.NewServer()
	t.Cleanup(srv.Close)
	srv.Payload = xbrlArchive(t)

	session := portal.SessionOptions{Timeout: 5 * time.Second}
	fetcher, err := portal.NewPageFetcher(session, nil)
	require.NoError(t, err)
	store, err := drift.NewFileStore(t.TempDir())
	require.NoError(t, err)
	pages := []drift.Page{{Category: drift.CategoryBulkDownload, URL: srv.PageURL()}}
	validator := drift.NewValidator(fetcher, store, pages)

	downloadDir := t.TempDir()
	newClient := func() (collector.Downloader, error) {
		return portal.New(portal.Options{BaseURL: srv.PageURL(), DownloadDir: downloadDir, Session: session})
	}
	rec := &memRecorder{}
	c := collector.New(newClient, validator, rec, collector.Options{
		PageURL:        srv.PageURL(),
		SkipValidation: skipValidation,
		Concurrency:    2,
		Extract:        xbrl.Options{Workers: 2},
	})
	return &harness{srv: srv, store: store, recorder: rec, collector: c}
}

func TestCollectDownloadsAndExtracts(t *testing.T) {
	h := newHarness(t, false)

	out, err := h.collector.Collect(context.Background(), collector.Job{
		Product: model.CallSingle,
		Period:  "20240331",
		Format:  model.XBRL,
		Extract: true,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Validation)
	require.True(t, out.Validation.FirstRun)
	require.Contains(t, out.Warnings, "First run - thumbprint saved")

	require.True(t, out.Download.Success)
	require.Empty(t, out.Download.FilePath, "in-memory job must not save")
	require.Len(t, out.Observations(), 2)
	n, ok := out.Observations()[0].Value.Int()
	require.True(t, ok)
	require.Equal(t, int64(123), n)

	require.NotNil(t, out.Summary)
	require.Equal(t, xbrl.StatusOK, out.Summary.Status)
	require.Equal(t, "call-single", out.Summary.Product)
	require.Equal(t, "20240331", out.Summary.Period)

	require.Len(t, h.recorder.downloads, 1)
	require.Len(t, h.recorder.extractions, 1)
}

func TestCollectBlocksOnCriticalDrift(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_, err := h.collector.Validate(ctx)
	require.NoError(t, err)

	// Simulate a baseline taken when the portal had a different generator.
	fp, found, err := h.store.Load(drift.CategoryBulkDownload)
	require.NoError(t, err)
	require.True(t, found)
	fp.GeneratorValue = "OLDVALUE"
	require.NoError(t, h.store.Save(drift.CategoryBulkDownload, fp))

	before := len(h.srv.Requests())
	out, err := h.collector.Collect(ctx, collector.Job{Product: model.CallSingle, Period: "latest", Format: model.XBRL, Save: true})
	require.ErrorIs(t, err, drift.ErrWebpageChanged)
	require.Nil(t, out.Download)
	require.False(t, out.Validation.Valid)

	// Only the validation GET reached the portal; no postback was attempted.
	reqs := h.srv.Requests()[before:]
	require.Len(t, reqs, 1)
	require.Equal(t, "GET", reqs[0].Method)
	require.Empty(t, h.recorder.downloads)
}

func TestCollectSkipValidation(t *testing.T) {
	h := newHarness(t, true)

	out, err := h.collector.Collect(context.Background(), collector.Job{
		Product: model.CallFourPeriods, Period: "12/31/2023", Format: model.TSV, Save: true,
	})
	require.NoError(t, err)
	require.Nil(t, out.Validation)
	require.True(t, out.Download.Success)
	require.NotEmpty(t, out.Download.FilePath)
	require.True(t, strings.HasSuffix(out.Download.Filename, "TSV 12312023.zip"))
}

func TestCollectNotAFileIsOutcome(t *testing.T) {
	h := newHarness(t, true)
	h.srv.NotAFile = true

	out, err := h.collector.Collect(context.Background(), collector.Job{Product: model.CallSingle, Period: "latest", Format: model.XBRL, Extract: true})
	require.NoError(t, err)
	require.False(t, out.Download.Success)
	require.Contains(t, out.Error, "unexpected content type")
	require.Nil(t, out.Extraction)
	require.Len(t, h.recorder.downloads, 1)
}

func TestCollectRejectsExtractingTSV(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.collector.Collect(context.Background(), collector.Job{Product: model.CallSingle, Period: "latest", Format: model.TSV, Extract: true})
	require.Error(t, err)
	require.Empty(t, h.srv.Requests())
}

func TestCollectManyKeepsOrderAndIsolatesFailures(t *testing.T) {
	h := newHarness(t, false)

	jobs := []collector.Job{
		{Product: model.CallSingle, Period: "20240331", Format: model.XBRL, Extract: true},
		{Product: model.UBPRRatioSingle, Period: "20100630", Format: model.XBRL},
		{Product: model.CallFourPeriods, Period: "latest", Format: model.XBRL, Extract: true},
	}
	outcomes, err := h.collector.CollectMany(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	require.Empty(t, outcomes[0].Error)
	require.Len(t, outcomes[0].Observations(), 2)

	require.Contains(t, outcomes[1].Error, "period not found")
	require.Nil(t, outcomes[1].Download)

	require.Empty(t, outcomes[2].Error)
	require.Equal(t, model.CallFourPeriods, outcomes[2].Job.Product)
	require.Contains(t, outcomes[2].Warnings, "First run - thumbprint saved")
}
