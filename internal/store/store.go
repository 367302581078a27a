// Package store provides a thin bbolt wrapper for the collector's local
// database.
//
// The store is a ledger, not a cache: it records what was downloaded and
// how extraction went, and can hold drift baselines instead of the YAML
// files. Nothing expires.
//
// Buckets:
//
//	downloads  : one record per download attempt, keyed by time
//	extractions: latest extraction telemetry per source file
//	baselines  : drift fingerprints per page category
//	_meta      : internal: schema version, created_at
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/call-report/data-collector/internal/drift"
	"github.com/call-report/data-collector/internal/model"
)

// Current schema version. Bump when bucket layout or key format changes.
const schemaVersion = 1

// Bucket name constants.
var (
	bucketDownloads   = []byte("downloads")
	bucketExtractions = []byte("extractions")
	bucketBaselines   = []byte("baselines")
	bucketInternal    = []byte("_meta")
)

// AllBuckets lists every top-level bucket for stats and clear operations.
var AllBuckets = []string{"downloads", "extractions", "baselines"}

// Store wraps a bbolt database.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens (or creates) the bbolt database at path.
// Parent directories are created automatically.
// Runs schema migrations on every open.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening db %s: %w", path, err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the filesystem path of the open database.
func (s *Store) Path() string {
	return s.db.Path()
}

// ─── Migrations ───────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketDownloads, bucketExtractions, bucketBaselines, bucketInternal} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}

		meta := tx.Bucket(bucketInternal)
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(fmt.Sprintf("%d", schemaVersion))); err != nil {
				return err
			}
			if err := meta.Put([]byte("created_at"), []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
				return err
			}
		}
		return nil
	})
}

// ─── Download History ─────────────────────────────────────────────────────────

// DownloadRecord is one stored download attempt.
type DownloadRecord struct {
	Key        string    `json:"key"`
	RecordedAt time.Time `json:"recorded_at"`
	model.DownloadResult
}

// keyTimeLayout is fixed width so keys sort chronologically.
const keyTimeLayout = "2006-01-02T15:04:05.000000000Z"

// downloadKey is <UTC time>|<product>|<period>|<format>.
func downloadKey(at time.Time, res *model.DownloadResult) string {
	return strings.Join([]string{at.UTC().Format(keyTimeLayout), res.Product, res.Period, res.Format}, "|")
}

// RecordDownload appends a download attempt to the history. The payload
// itself is never stored.
func (s *Store) RecordDownload(res *model.DownloadResult) error {
	rec := DownloadRecord{RecordedAt: s.now().UTC(), DownloadResult: *res}
	rec.Content = nil
	rec.Key = downloadKey(rec.RecordedAt, res)
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding download record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDownloads).Put([]byte(rec.Key), b)
	})
}

// ListDownloads returns the history oldest first. A non-empty product
// restricts it to that product's short name.
func (s *Store) ListDownloads(product string) ([]DownloadRecord, error) {
	var recs []DownloadRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDownloads).ForEach(func(k, v []byte) error {
			var rec DownloadRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decoding %s: %w", k, err)
			}
			if product == "" || rec.Product == product {
				recs = append(recs, rec)
			}
			return nil
		})
	})
	return recs, err
}

// ─── Extraction Telemetry ─────────────────────────────────────────────────────

// RecordExtraction stores the summary under its source, replacing any
// earlier run of the same file.
func (s *Store) RecordExtraction(sum model.ExtractionSummary) error {
	if sum.Source == "" {
		return fmt.Errorf("extraction summary has no source")
	}
	b, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("encoding extraction summary: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExtractions).Put([]byte(sum.Source), b)
	})
}

// GetExtraction returns (summary, true, nil) if found, (zero, false, nil) if not.
func (s *Store) GetExtraction(source string) (model.ExtractionSummary, bool, error) {
	var sum model.ExtractionSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketExtractions).Get([]byte(source))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &sum)
	})
	if err != nil {
		return sum, false, err
	}
	return sum, sum.Source != "", nil
}

// ListExtractions returns every summary sorted by source name.
func (s *Store) ListExtractions() ([]model.ExtractionSummary, error) {
	var sums []model.ExtractionSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExtractions).ForEach(func(k, v []byte) error {
			var sum model.ExtractionSummary
			if err := json.Unmarshal(v, &sum); err != nil {
				return err
			}
			sums = append(sums, sum)
			return nil
		})
	})
	return sums, err
}

// ─── Drift Baselines ──────────────────────────────────────────────────────────

// Baselines exposes the baselines bucket as a drift.BaselineStore.
func (s *Store) Baselines() drift.BaselineStore {
	return baselineStore{s}
}

type baselineStore struct{ s *Store }

func (b baselineStore) Load(category string) (*drift.Fingerprint, bool, error) {
	var fp *drift.Fingerprint
	err := b.s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBaselines).Get([]byte(category))
		if v == nil {
			return nil
		}
		fp = &drift.Fingerprint{}
		return json.Unmarshal(v, fp)
	})
	if err != nil {
		return nil, false, fmt.Errorf("decoding baseline %s: %w", category, err)
	}
	return fp, fp != nil, nil
}

func (b baselineStore) Save(category string, fp *drift.Fingerprint) error {
	if category == "" {
		return fmt.Errorf("empty page category")
	}
	data, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("encoding baseline: %w", err)
	}
	return b.s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBaselines).Put([]byte(category), data)
	})
}

// ─── Stats & Maintenance ──────────────────────────────────────────────────────

// BucketStats holds row count and byte size for a single bucket.
type BucketStats struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Bytes int64  `json:"bytes"`
}

// Stats returns row counts and approximate sizes for all buckets, in
// AllBuckets order.
func (s *Store) Stats() ([]BucketStats, error) {
	var stats []BucketStats
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, name := range AllBuckets {
			b := tx.Bucket([]byte(name))
			if b == nil {
				continue
			}
			var count int
			var bytes int64
			b.ForEach(func(k, v []byte) error {
				count++
				bytes += int64(len(k) + len(v))
				return nil
			})
			stats = append(stats, BucketStats{Name: name, Count: count, Bytes: bytes})
		}
		return nil
	})
	return stats, err
}

// ClearBucket deletes all entries in the named bucket.
func (s *Store) ClearBucket(name string) error {
	bname := []byte(name)
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bname); err != nil {
			return fmt.Errorf("clearing bucket %s: %w", name, err)
		}
		_, err := tx.CreateBucket(bname)
		return err
	})
}

// ClearAll deletes all entries from every user-facing bucket.
func (s *Store) ClearAll() error {
	for _, name := range AllBuckets {
		if err := s.ClearBucket(name); err != nil {
			return err
		}
	}
	return nil
}

// renameFile swaps the compacted file into place.
var renameFile = os.Rename

// Compact rewrites the database into a fresh file and swaps it in place,
// returning the file sizes before and after. The store stays open.
func (s *Store) Compact() (before, after int64, err error) {
	path := s.db.Path()
	fi, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	before = fi.Size()

	tmpPath := path + ".compact"
	_ = os.Remove(tmpPath)
	dst, err := bolt.Open(tmpPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return 0, 0, fmt.Errorf("opening compaction target: %w", err)
	}
	if err := bolt.Compact(dst, s.db, 64<<10); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return 0, 0, fmt.Errorf("compacting: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, 0, err
	}
	if err := s.db.Close(); err != nil {
		return 0, 0, err
	}
	if err := renameFile(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		// The original file is untouched; reopen it so the store stays usable.
		if db, oerr := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second}); oerr == nil {
			s.db = db
		}
		return 0, 0, fmt.Errorf("replacing database: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return 0, 0, fmt.Errorf("reopening db: %w", err)
	}
	s.db = db

	if fi, err := os.Stat(path); err == nil {
		after = fi.Size()
	}
	return before, after, nil
}
