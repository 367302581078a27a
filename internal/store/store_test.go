package store_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/call-report/data-collector/internal/drift"
	"github.com/call-report/data-collector/internal/model"
	"github.com/call-report/data-collector/internal/store"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

// testDB opens a fresh isolated database in t.TempDir().
// It is closed and deleted automatically when the test ends.
func testDB(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func makeDownload(product, period string, ok bool) *model.DownloadResult {
	res := &model.DownloadResult{
		Success: ok,
		Product: product,
		Period:  period,
		Format:  "xbrl",
		Content: []byte("payload"),
	}
	if ok {
		res.Filename = "FFIEC CDR Call Bulk XBRL 03312024.zip"
		res.SizeBytes = 7
	} else {
		res.Error = "download failed - unexpected content type: text/html"
	}
	return res
}

// ─── Open / Path ──────────────────────────────────────────────────────────────

func TestOpenCreatesDB(t *testing.T) {
	s := testDB(t)
	if s.Path() == "" {
		t.Error("Path() should return the db path after open")
	}
}

func TestOpenCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c", "test.db")
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open with nested path: %v", err)
	}
	defer s.Close()
	if s.Path() != path {
		t.Errorf("Path: expected %q, got %q", path, s.Path())
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.RecordDownload(makeDownload("call-single", "20240331", true)); err != nil {
		t.Fatalf("RecordDownload: %v", err)
	}
	_ = s.Close()

	s, err = store.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	recs, err := s.ListDownloads("")
	if err != nil {
		t.Fatalf("ListDownloads: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("expected 1 record after reopen, got %d", len(recs))
	}
}

// ─── Downloads ────────────────────────────────────────────────────────────────

func TestRecordDownloadRoundTrip(t *testing.T) {
	s := testDB(t)
	if err := s.RecordDownload(makeDownload("call-single", "20240331", true)); err != nil {
		t.Fatalf("RecordDownload: %v", err)
	}
	recs, err := s.ListDownloads("")
	if err != nil {
		t.Fatalf("ListDownloads: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if !rec.Success || rec.Product != "call-single" || rec.Period != "20240331" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Content != nil {
		t.Error("payload must not be stored")
	}
	if rec.RecordedAt.IsZero() || rec.Key == "" {
		t.Error("record should carry its key and timestamp")
	}
}

func TestListDownloadsChronologicalAndFiltered(t *testing.T) {
	s := testDB(t)
	_ = s.RecordDownload(makeDownload("ubpr-ratio-four", "20231231", true))
	time.Sleep(time.Millisecond)
	_ = s.RecordDownload(makeDownload("call-single", "20240331", false))
	time.Sleep(time.Millisecond)
	_ = s.RecordDownload(makeDownload("call-single", "20240331", true))

	all, err := s.ListDownloads("")
	if err != nil {
		t.Fatalf("ListDownloads: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].Product != "ubpr-ratio-four" || all[2].Success != true {
		t.Errorf("records not in recording order: %+v", all)
	}

	calls, _ := s.ListDownloads("call-single")
	if len(calls) != 2 {
		t.Errorf("filter: expected 2 call-single records, got %d", len(calls))
	}
	if calls[0].Success {
		t.Error("filter: failed attempt should come first")
	}
}

// ─── Extractions ──────────────────────────────────────────────────────────────

func TestRecordExtractionOverwrites(t *testing.T) {
	s := testDB(t)
	sum := model.ExtractionSummary{Source: "a.zip", Status: "extraction_failed", MembersMatched: 2, MembersFailed: 2}
	if err := s.RecordExtraction(sum); err != nil {
		t.Fatalf("RecordExtraction: %v", err)
	}
	sum.Status = "ok"
	sum.MembersFailed = 0
	sum.SkipReasons = map[string]int{"missing_date": 3}
	if err := s.RecordExtraction(sum); err != nil {
		t.Fatalf("RecordExtraction: %v", err)
	}

	got, found, err := s.GetExtraction("a.zip")
	if err != nil || !found {
		t.Fatalf("GetExtraction: found=%v err=%v", found, err)
	}
	if got.Status != "ok" || got.SkipReasons["missing_date"] != 3 {
		t.Errorf("expected latest summary, got %+v", got)
	}

	all, _ := s.ListExtractions()
	if len(all) != 1 {
		t.Errorf("expected 1 summary, got %d", len(all))
	}
}

func TestGetExtractionNotFound(t *testing.T) {
	s := testDB(t)
	_, found, err := s.GetExtraction("missing.zip")
	if err != nil {
		t.Fatalf("GetExtraction: %v", err)
	}
	if found {
		t.Error("expected not found")
	}
}

func TestRecordExtractionRequiresSource(t *testing.T) {
	s := testDB(t)
	if err := s.RecordExtraction(model.ExtractionSummary{Status: "ok"}); err == nil {
		t.Error("expected error for summary without source")
	}
}

// ─── Baselines ────────────────────────────────────────────────────────────────

func TestBaselineStore(t *testing.T) {
	s := testDB(t)
	bs := s.Baselines()

	_, found, err := bs.Load(drift.CategoryBulkDownload)
	if err != nil || found {
		t.Fatalf("empty Load: found=%v err=%v", found, err)
	}

	fp := &drift.Fingerprint{
		Version:          drift.FingerprintVersion,
		Category:         drift.CategoryBulkDownload,
		URL:              "https://portal.test/bulk",
		ViewStatePresent: true,
		GeneratorPresent: true,
		GeneratorValue:   "651D9554",
		FormElements:     []drift.FormElement{{Name: "n", ID: "i", Kind: "select", Options: []string{"a"}}},
	}
	fp.Hash = fp.CalculateHash()
	if err := bs.Save(drift.CategoryBulkDownload, fp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, found, err := bs.Load(drift.CategoryBulkDownload)
	if err != nil || !found {
		t.Fatalf("Load: found=%v err=%v", found, err)
	}
	if got.Hash != fp.Hash || got.CalculateHash() != fp.Hash {
		t.Errorf("hash mismatch after round trip: stored %s, recomputed %s", got.Hash, got.CalculateHash())
	}
}

// ─── Stats ────────────────────────────────────────────────────────────────────

func TestStatsEmpty(t *testing.T) {
	s := testDB(t)
	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != len(store.AllBuckets) {
		t.Errorf("expected %d buckets, got %d", len(store.AllBuckets), len(stats))
	}
	for _, bs := range stats {
		if bs.Count != 0 {
			t.Errorf("bucket %q: expected 0 rows on fresh db, got %d", bs.Name, bs.Count)
		}
	}
}

func TestStatsCountsRows(t *testing.T) {
	s := testDB(t)
	_ = s.RecordDownload(makeDownload("call-single", "20240331", true))
	time.Sleep(time.Millisecond)
	_ = s.RecordDownload(makeDownload("call-four", "20240331", true))
	_ = s.RecordExtraction(model.ExtractionSummary{Source: "x.zip", Status: "ok"})

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	byName := make(map[string]int)
	for _, bs := range stats {
		byName[bs.Name] = bs.Count
	}
	if byName["downloads"] != 2 {
		t.Errorf("downloads: expected 2, got %d", byName["downloads"])
	}
	if byName["extractions"] != 1 {
		t.Errorf("extractions: expected 1, got %d", byName["extractions"])
	}
}

// ─── ClearBucket / ClearAll ───────────────────────────────────────────────────

func TestClearBucketLeavesOthersIntact(t *testing.T) {
	s := testDB(t)
	_ = s.RecordDownload(makeDownload("call-single", "20240331", true))
	_ = s.RecordExtraction(model.ExtractionSummary{Source: "x.zip", Status: "ok"})

	if err := s.ClearBucket("downloads"); err != nil {
		t.Fatalf("ClearBucket: %v", err)
	}
	recs, _ := s.ListDownloads("")
	if len(recs) != 0 {
		t.Errorf("expected 0 downloads after ClearBucket, got %d", len(recs))
	}
	if _, found, _ := s.GetExtraction("x.zip"); !found {
		t.Error("extractions bucket should be intact after clearing downloads")
	}
}

func TestClearBucketUnknown(t *testing.T) {
	s := testDB(t)
	if err := s.ClearBucket("nope"); err == nil {
		t.Error("expected error clearing a bucket that does not exist")
	}
}

func TestClearAll(t *testing.T) {
	s := testDB(t)
	_ = s.RecordDownload(makeDownload("call-single", "20240331", true))
	_ = s.RecordExtraction(model.ExtractionSummary{Source: "x.zip", Status: "ok"})
	_ = s.Baselines().Save(drift.CategoryTaxonomy, &drift.Fingerprint{URL: "u"})

	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	recs, _ := s.ListDownloads("")
	sums, _ := s.ListExtractions()
	_, found, _ := s.Baselines().Load(drift.CategoryTaxonomy)
	if len(recs) != 0 || len(sums) != 0 || found {
		t.Errorf("ClearAll: downloads=%d extractions=%d baseline=%v (all should be empty)",
			len(recs), len(sums), found)
	}
}

// ─── Compact ──────────────────────────────────────────────────────────────────

func TestCompactKeepsData(t *testing.T) {
	s := testDB(t)
	for i := 0; i < 50; i++ {
		_ = s.RecordDownload(makeDownload("call-single", "20240331", true))
	}
	_ = s.RecordExtraction(model.ExtractionSummary{Source: "x.zip", Status: "ok"})
	if err := s.ClearBucket("downloads"); err != nil {
		t.Fatalf("ClearBucket: %v", err)
	}

	before, after, err := s.Compact()
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if before <= 0 || after <= 0 {
		t.Errorf("sizes should be positive: before=%d after=%d", before, after)
	}
	if _, found, err := s.GetExtraction("x.zip"); err != nil || !found {
		t.Errorf("data lost by compaction: found=%v err=%v", found, err)
	}
	if err := s.RecordDownload(makeDownload("call-four", "20240331", true)); err != nil {
		t.Errorf("store should stay writable after compaction: %v", err)
	}
}

func TestCompactRenameFailureKeepsStoreOpen(t *testing.T) {
	s := testDB(t)
	if err := s.RecordExtraction(model.ExtractionSummary{Source: "x.zip", Status: "ok"}); err != nil {
		t.Fatalf("RecordExtraction: %v", err)
	}

	var tmpPath string
	restore := store.SetRenameFile(func(oldpath, _ string) error {
		tmpPath = oldpath
		return errors.New("device busy")
	})
	defer restore()

	if _, _, err := s.Compact(); err == nil {
		t.Fatal("expected Compact to fail when the rename fails")
	}
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("compaction target %s should be removed, stat err=%v", tmpPath, err)
	}
	if _, found, err := s.GetExtraction("x.zip"); err != nil || !found {
		t.Errorf("store should still read after a failed compaction: found=%v err=%v", found, err)
	}
	if err := s.RecordDownload(makeDownload("call-four", "20240331", true)); err != nil {
		t.Errorf("store should still write after a failed compaction: %v", err)
	}
}
