// Package pipeline provides helpers for reading and writing Observation
// streams via stdin/stdout in JSONL format, the pipe format shared by
// extract, export and external tools.
package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/call-report/data-collector/internal/model"
	"github.com/call-report/data-collector/internal/util"
)

// ReadObservations reads JSONL records from r. Each line is one flat
// observation object ({"mdrm","rssd","quarter","data_type",<slot>}).
// Blank lines and lines starting with "//" are skipped.
func ReadObservations(r io.Reader) ([]model.Observation, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var obs []model.Observation
	lineNum := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineNum++
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		var o model.Observation
		if err := json.Unmarshal([]byte(line), &o); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if o.MetricCode == "" || o.EntityID == "" {
			return nil, fmt.Errorf("line %d: mdrm and rssd are required", lineNum)
		}
		if _, err := util.ParseDate(o.Quarter); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		obs = append(obs, o)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("no observations read from input (is stdin empty?)")
	}
	return obs, nil
}

// WriteJSONL writes observations as JSONL to w.
func WriteJSONL(w io.Writer, obs []model.Observation) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, o := range obs {
		if err := enc.Encode(o); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// IsTTY returns true if stdout is a terminal (not a pipe).
func IsTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
