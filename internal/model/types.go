// Package model defines the canonical data types used throughout the
// collector: the portal's data products, reporting periods, download
// requests and results, and the flat observation records extracted from
// downloaded XBRL documents.
package model

import (
	"fmt"
	"strings"
	"time"
)

// ─── Products ─────────────────────────────────────────────────────────────────

// Product is one of the bulk data products offered by the download portal.
type Product int

const (
	CallSingle Product = iota + 1
	CallFourPeriods
	UBPRRatioSingle
	UBPRRatioFour
	UBPRRankFour
	UBPRStatsFour
)

type productInfo struct {
	name      string // CLI-friendly short name
	formValue string // ListBox1 option value
	label     string // ListBox1 option text
}

var products = map[Product]productInfo{
	CallSingle: {
		name:      "call-single",
		formValue: "ReportingSeriesSinglePeriod",
		label:     "Call Reports -- Single Period",
	},
	CallFourPeriods: {
		name:      "call-four",
		formValue: "ReportingSeriesSubsetSchedulesFourPeriods",
		label:     "Call Reports -- Balance Sheet, Income Statement, Past Due -- Four Periods",
	},
	UBPRRatioSingle: {
		name:      "ubpr-ratio-single",
		formValue: "PerformanceReportingSeriesSinglePeriod",
		label:     "UBPR Ratio -- Single Period",
	},
	UBPRRatioFour: {
		name:      "ubpr-ratio-four",
		formValue: "PerformanceReportingSeriesFourPeriods",
		label:     "UBPR Ratio -- Four Periods",
	},
	UBPRRankFour: {
		name:      "ubpr-rank-four",
		formValue: "PerformanceReportingSeriesRank",
		label:     "UBPR Rank -- Four Periods",
	},
	UBPRStatsFour: {
		name:      "ubpr-stats-four",
		formValue: "PerformanceReportingSeriesStats",
		label:     "UBPR Stats -- Four Periods",
	},
}

// AllProducts returns every product in portal listing order.
func AllProducts() []Product {
	return []Product{CallSingle, CallFourPeriods, UBPRRatioSingle, UBPRRatioFour, UBPRRankFour, UBPRStatsFour}
}

// ParseProduct resolves a short name ("call-single") or a form value
// ("ReportingSeriesSinglePeriod"), case-insensitively.
func ParseProduct(s string) (Product, error) {
	s = strings.TrimSpace(s)
	for _, p := range AllProducts() {
		info := products[p]
		if strings.EqualFold(s, info.name) || strings.EqualFold(s, info.formValue) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown product %q", s)
}

// Valid reports whether p is one of the defined products.
func (p Product) Valid() bool {
	_, ok := products[p]
	return ok
}

// String returns the CLI short name.
func (p Product) String() string {
	if info, ok := products[p]; ok {
		return info.name
	}
	return fmt.Sprintf("product(%d)", int(p))
}

// FormValue is the option value posted for the product selector.
func (p Product) FormValue() string { return products[p].formValue }

// Label is the human-readable option text shown by the portal.
func (p Product) Label() string { return products[p].label }

func (p Product) IsSinglePeriod() bool { return strings.Contains(p.Label(), "Single") }
func (p Product) IsCallReport() bool   { return strings.Contains(p.Label(), "Call") }
func (p Product) IsUBPR() bool         { return strings.Contains(p.Label(), "UBPR") }

// MarshalText encodes the product as its short name.
func (p Product) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid product %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText accepts anything ParseProduct accepts.
func (p *Product) UnmarshalText(b []byte) error {
	v, err := ParseProduct(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ─── File Formats ─────────────────────────────────────────────────────────────

// FileFormat is the payload format of a bulk download.
type FileFormat int

const (
	TSV FileFormat = iota + 1
	XBRL
)

type formatInfo struct {
	name      string
	formValue string
	label     string
	mimeType  string
	suffix    string
}

var formats = map[FileFormat]formatInfo{
	TSV:  {"tsv", "TSVRadioButton", "Tab Delimited", "text/tab-separated-values", "TSV"},
	XBRL: {"xbrl", "XBRLRadiobutton", "eXtensible Business Reporting Language (XBRL)", "application/xml", "XBRL"},
}

// ParseFileFormat accepts "tsv" or "xbrl" (any case) or a radio form value.
func ParseFileFormat(s string) (FileFormat, error) {
	s = strings.TrimSpace(s)
	for f, info := range formats {
		if strings.EqualFold(s, info.name) || strings.EqualFold(s, info.formValue) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown file format %q (expected tsv or xbrl)", s)
}

func (f FileFormat) String() string {
	if info, ok := formats[f]; ok {
		return info.name
	}
	return fmt.Sprintf("format(%d)", int(f))
}

func (f FileFormat) Valid() bool {
	_, ok := formats[f]
	return ok
}

// FormValue is the radio button value posted for the format selector.
func (f FileFormat) FormValue() string { return formats[f].formValue }
func (f FileFormat) Label() string     { return formats[f].label }
func (f FileFormat) MIMEType() string  { return formats[f].mimeType }

// Suffix is the format token used in the portal's file names.
func (f FileFormat) Suffix() string { return formats[f].suffix }

func (f FileFormat) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid file format %d", int(f))
	}
	return []byte(f.String()), nil
}

func (f *FileFormat) UnmarshalText(b []byte) error {
	v, err := ParseFileFormat(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// ─── Reporting Periods ────────────────────────────────────────────────────────

const (
	// PeriodDisplayLayout is the portal's month/day/year option text.
	PeriodDisplayLayout = "01/02/2006"
	// PeriodKeyLayout is the canonical 8-digit date key.
	PeriodKeyLayout = "20060102"
)

// ReportingPeriod is one option of the portal's period selector.
// Value is only meaningful relative to the product it was listed under.
type ReportingPeriod struct {
	Value   string    `json:"value"`
	Display string    `json:"display"`
	Date    time.Time `json:"date"`
}

// NewReportingPeriod parses the MM/DD/YYYY display string of a period option.
func NewReportingPeriod(value, display string) (ReportingPeriod, error) {
	display = strings.TrimSpace(display)
	d, err := time.Parse(PeriodDisplayLayout, display)
	if err != nil {
		return ReportingPeriod{}, fmt.Errorf("invalid period date %q: expected MM/DD/YYYY", display)
	}
	return ReportingPeriod{Value: value, Display: display, Date: d}, nil
}

// Quarter returns 1–4 from the month of the period date.
func (p ReportingPeriod) Quarter() int { return (int(p.Date.Month())-1)/3 + 1 }

func (p ReportingPeriod) Year() int { return p.Date.Year() }

// Key returns the canonical YYYYMMDD form.
func (p ReportingPeriod) Key() string { return p.Date.Format(PeriodKeyLayout) }

func (p ReportingPeriod) String() string {
	return fmt.Sprintf("Q%d %d (%s)", p.Quarter(), p.Year(), p.Display)
}

// ─── Download Requests & Results ──────────────────────────────────────────────

// DownloadRequest is the fully resolved (product, period, format) tuple.
type DownloadRequest struct {
	Product Product         `json:"product"`
	Period  ReportingPeriod `json:"period"`
	Format  FileFormat      `json:"format"`
}

// ExpectedFilename reproduces the portal's naming rule for bulk files. It is
// used when the response does not suggest a filename.
func (r DownloadRequest) ExpectedFilename() string {
	var name string
	switch {
	case r.Product == CallSingle:
		name = "Call Bulk"
	case r.Product.IsCallReport():
		name = "Call Bulk Subset of Schedules"
	default:
		name = strings.TrimSpace(strings.ReplaceAll(r.Product.Label(), "--", ""))
	}
	return fmt.Sprintf("FFIEC CDR %s %s %s.zip", name, r.Format.Suffix(), r.Period.Date.Format("01022006"))
}

// DownloadResult is the outcome of one download attempt. A response that was
// not a file attachment yields Success=false with Error set.
type DownloadResult struct {
	Success     bool       `json:"success"`
	Product     string     `json:"product,omitempty"`
	Period      string     `json:"period,omitempty"`
	Format      string     `json:"format,omitempty"`
	Filename    string     `json:"filename,omitempty"`
	SizeBytes   int64      `json:"size_bytes,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
	FilePath    string     `json:"file_path,omitempty"`
	Error       string     `json:"error,omitempty"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	CallUpdated *time.Time `json:"call_updated,omitempty"`
	UBPRUpdated *time.Time `json:"ubpr_updated,omitempty"`
	// Content holds the payload when the caller asked not to save it.
	Content []byte `json:"-"`
}

// BulkDataSource summarises what the portal currently offers for a product.
type BulkDataSource struct {
	Product           string   `json:"product"`
	PublishedDate     string   `json:"published_date,omitempty"`
	AvailableQuarters []string `json:"available_quarters"`
}

// ─── Result Envelope ─────────────────────────────────────────────────────────

// ResultStats carries timing and item counts for a command result.
type ResultStats struct {
	DurationMs int64 `json:"duration_ms"`
	Items      int   `json:"items"`
	Skipped    int   `json:"skipped,omitempty"`
}

// Result is the uniform envelope returned by every command.
// Renderers switch on Kind to format Data.
type Result struct {
	Kind        string      `json:"kind"`
	GeneratedAt time.Time   `json:"generated_at"`
	Command     string      `json:"command"`
	Data        interface{} `json:"data"`
	Warnings    []string    `json:"warnings,omitempty"`
	Stats       ResultStats `json:"stats"`
}

// Kind constants for Result.Kind.
const (
	KindProducts     = "products"
	KindPeriods      = "periods"
	KindDownload     = "download"
	KindDownloads    = "downloads"
	KindValidation   = "validation"
	KindObservations = "observations"
	KindSources      = "sources"
	KindMDRM         = "mdrm"
	KindTable        = "table"
)

// Table is free-form tabular data for listings that have no dedicated
// renderer (history, db stats, extraction summaries).
type Table struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}
