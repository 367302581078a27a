// Package mdrm downloads and cleans the Federal Reserve's Micro Data
// Reference Manual, the data dictionary that names every MDRM code found in
// Call Report and UBPR observations.
package mdrm

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/call-report/data-collector/internal/util"
)

const (
	// DefaultURL is the published dictionary archive.
	DefaultURL = "https://www.federalreserve.gov/apps/mdrm/pdf/MDRM.zip"
	// CSVMember is the archive member holding the dictionary.
	CSVMember = "MDRM_CSV.csv"

	// Dates in the CSV look like "1/1/1900 12:00:00 AM".
	dateLayout = "1/2/2006 3:04:05 PM"
)

var ErrMemberNotFound = errors.New("MDRM CSV file not found in archive")

// ItemTypes translates the single-letter ItemType column.
var ItemTypes = map[string]string{
	"J": "Projected",
	"D": "Derived",
	"F": "Financial reported",
	"R": "Rate",
	"S": "Structure",
	"E": "Examination/Supervision Data",
	"P": "Percentage",
}

// Item is one cleaned dictionary row.
type Item struct {
	MDRM            string   `json:"mdrm"`
	Mnemonic        string   `json:"mnemonic"`
	ItemCode        string   `json:"item_code"`
	StartDate       string   `json:"start_date"`
	EndDate         string   `json:"end_date"`
	ItemName        string   `json:"item_name"`
	Confidential    bool     `json:"is_conf"`
	ItemType        string   `json:"item_type"`
	ItemTypeExplain string   `json:"item_type_explain"`
	ReportingForms  []string `json:"reporting_forms"`
	Description     string   `json:"description"`
	SeriesGlossary  string   `json:"series_glossary"`
}

// Fetcher returns the body at url. portal.PageFetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Download fetches the archive at url (DefaultURL when empty) and parses it.
func Download(ctx context.Context, f Fetcher, url string) ([]Item, error) {
	if url == "" {
		url = DefaultURL
	}
	slog.Info("downloading MDRM dictionary", "url", url)
	body, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("downloading data dictionary: %w", err)
	}
	return ParseArchive(body)
}

// ParseArchive reads CSVMember out of a zip archive and parses it.
func ParseArchive(data []byte) ([]Item, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening MDRM archive: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != CSVMember {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", CSVMember, err)
		}
		defer rc.Close()
		return ParseCSV(rc)
	}
	return nil, ErrMemberNotFound
}

// Required header columns.
var columns = []string{
	"Mnemonic", "Item Code", "Start Date", "End Date", "Item Name",
	"Confidentiality", "ItemType", "Reporting Form", "Description", "SeriesGlossary",
}

// ParseCSV parses the Windows-1252 dictionary CSV. The first line is a
// title row and is skipped; the second holds the column headers.
func ParseCSV(r io.Reader) ([]Item, error) {
	cr := csv.NewReader(charmap.Windows1252.NewDecoder().Reader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	if _, err := cr.Read(); err != nil {
		return nil, fmt.Errorf("reading title row: %w", err)
	}
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header row: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, c := range columns {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("missing column %q", c)
		}
	}

	var items []Item
	seen := make(map[string]struct{})
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		get := func(col string) string {
			if i := idx[col]; i < len(rec) {
				return clean(rec[i])
			}
			return ""
		}
		it := Item{
			Mnemonic:       get("Mnemonic"),
			ItemCode:       get("Item Code"),
			StartDate:      normalizeDate(get("Start Date")),
			EndDate:        normalizeDate(get("End Date")),
			ItemName:       get("Item Name"),
			Confidential:   get("Confidentiality") == "Y",
			ItemType:       get("ItemType"),
			Description:    stripHTML(get("Description")),
			SeriesGlossary: stripHTML(get("SeriesGlossary")),
		}
		if it.Mnemonic == "" && it.ItemCode == "" {
			continue
		}
		it.MDRM = it.Mnemonic + it.ItemCode
		it.ItemTypeExplain = ItemTypes[it.ItemType]

		// Duplicates are dropped on the raw form list, before splitting.
		forms := get("Reporting Form")
		key := strings.Join([]string{
			it.MDRM, it.StartDate, it.EndDate, it.ItemName, strconv.FormatBool(it.Confidential),
			it.ItemType, forms, it.Description, it.SeriesGlossary,
		}, "\x00")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		it.ReportingForms = splitForms(forms)
		items = append(items, it)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("MDRM CSV has no rows")
	}
	return items, nil
}

// Index maps MDRM codes to their dictionary rows. A code can have several
// rows over time; the one with the latest start date wins.
func Index(items []Item) map[string]Item {
	out := make(map[string]Item, len(items))
	for _, it := range items {
		if prev, ok := out[it.MDRM]; ok && prev.StartDate >= it.StartDate {
			continue
		}
		out[it.MDRM] = it
	}
	return out
}

// Filter returns the items whose reporting forms include form, sorted by code.
func Filter(items []Item, form string) []Item {
	var out []Item
	for _, it := range items {
		for _, f := range it.ReportingForms {
			if strings.EqualFold(f, form) {
				out = append(out, it)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MDRM < out[j].MDRM })
	return out
}

var htmlTag = regexp.MustCompile(`<[^<]+?>`)

func stripHTML(s string) string {
	return htmlTag.ReplaceAllString(s, "")
}

func clean(s string) string {
	s = strings.ReplaceAll(s, "&#x0D;", "")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n\n", "\n")
	return strings.TrimSpace(s)
}

func splitForms(s string) []string {
	if s == "" {
		return []string{}
	}
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// normalizeDate converts the CSV timestamp to YYYY-MM-DD. Values in any
// other shape are kept as-is.
func normalizeDate(s string) string {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return s
	}
	return util.FormatDate(t)
}
