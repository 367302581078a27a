package drift

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// BaselineStore persists one baseline Fingerprint per page category.
// Load reports found=false, with a nil error, when no baseline exists.
type BaselineStore interface {
	Load(category string) (fp *Fingerprint, found bool, err error)
	Save(category string, fp *Fingerprint) error
}

// FileStore keeps each baseline in <dir>/<category>_thumbprint.yaml as a
// document keyed by category name. Files are read and written whole.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating baseline dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string { return s.dir }

// Path returns the baseline file for category.
func (s *FileStore) Path(category string) string {
	return filepath.Join(s.dir, category+"_thumbprint.yaml")
}

func (s *FileStore) Load(category string) (*Fingerprint, bool, error) {
	if err := checkCategory(category); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(s.Path(category))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading baseline: %w", err)
	}
	var doc map[string]*Fingerprint
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("decoding baseline %s: %w", s.Path(category), err)
	}
	fp, ok := doc[category]
	if !ok || fp == nil {
		return nil, false, fmt.Errorf("baseline %s has no %q entry", s.Path(category), category)
	}
	return fp, true, nil
}

func (s *FileStore) Save(category string, fp *Fingerprint) error {
	if err := checkCategory(category); err != nil {
		return err
	}
	data, err := yaml.Marshal(map[string]*Fingerprint{category: fp})
	if err != nil {
		return fmt.Errorf("encoding baseline: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".baseline-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path(category))
}

func checkCategory(category string) error {
	if category == "" || strings.ContainsAny(category, `/\`) || strings.HasPrefix(category, ".") {
		return fmt.Errorf("invalid page category %q", category)
	}
	return nil
}
