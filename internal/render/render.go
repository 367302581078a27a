// Package render converts Result values into human-readable or machine-parseable
// output. Each format is a separate function; the top-level Render dispatcher
// selects based on the format string.
package render

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/call-report/data-collector/internal/drift"
	"github.com/call-report/data-collector/internal/mdrm"
	"github.com/call-report/data-collector/internal/model"
)

// Format constants matching --format flag values.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
	FormatTSV   = "tsv"
	FormatMD    = "md"
)

// Formats lists every accepted --format value.
var Formats = []string{FormatTable, FormatJSON, FormatJSONL, FormatCSV, FormatTSV, FormatMD}

// Render writes result to w in the specified format.
func Render(w io.Writer, result *model.Result, format string) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, result)
	case FormatJSONL:
		return renderJSONL(w, result)
	case FormatCSV:
		return renderDelimited(w, result, ',')
	case FormatTSV:
		return renderDelimited(w, result, '\t')
	case FormatMD:
		return renderMarkdown(w, result)
	default:
		return renderTable(w, result)
	}
}

// ─── JSON ─────────────────────────────────────────────────────────────────────

func renderJSON(w io.Writer, result *model.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// ─── JSONL ────────────────────────────────────────────────────────────────────

// renderJSONL writes one line per element when Data is a slice kind, so
// observation output pipes straight into `ffiec export`.
func renderJSONL(w io.Writer, result *model.Result) error {
	enc := json.NewEncoder(w)
	switch data := result.Data.(type) {
	case []model.Observation:
		for _, o := range data {
			if err := enc.Encode(o); err != nil {
				return err
			}
		}
		return nil
	case []*model.DownloadResult:
		for _, d := range data {
			if err := enc.Encode(d); err != nil {
				return err
			}
		}
		return nil
	case []drift.Result:
		for _, r := range data {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	case []mdrm.Item:
		for _, it := range data {
			if err := enc.Encode(it); err != nil {
				return err
			}
		}
		return nil
	default:
		return enc.Encode(result.Data)
	}
}

// ─── Tabular projection ───────────────────────────────────────────────────────

// tabulate projects Data onto headers and rows. ok is false for data with no
// tabular shape; callers fall back to JSON.
func tabulate(result *model.Result) (headers []string, rows [][]string, ok bool) {
	switch data := result.Data.(type) {
	case []model.Product:
		headers = []string{"PRODUCT", "FORM VALUE", "LABEL"}
		for _, p := range data {
			rows = append(rows, []string{p.String(), p.FormValue(), p.Label()})
		}
	case []model.ReportingPeriod:
		headers = []string{"VALUE", "DATE", "KEY", "QUARTER"}
		for _, p := range data {
			rows = append(rows, []string{p.Value, p.Display, p.Key(), fmt.Sprintf("Q%d %d", p.Quarter(), p.Year())})
		}
	case *model.DownloadResult:
		return tabulate(&model.Result{Data: []*model.DownloadResult{data}})
	case []*model.DownloadResult:
		headers = []string{"PRODUCT", "PERIOD", "FORMAT", "STATUS", "FILE", "SIZE"}
		for _, d := range data {
			rows = append(rows, downloadRow(d))
		}
	case []drift.Result:
		headers = []string{"CATEGORY", "STATUS", "CRITICAL", "WARNINGS", "HASH"}
		for _, r := range data {
			rows = append(rows, []string{
				r.Category,
				validationStatus(r),
				strings.Join(r.Critical, "; "),
				strings.Join(r.Warnings, "; "),
				shortHash(r.CurrentHash),
			})
		}
	case []model.Observation:
		headers = []string{"RSSD", "MDRM", "QUARTER", "TYPE", "VALUE"}
		for _, o := range data {
			rows = append(rows, []string{o.EntityID, o.MetricCode, o.Quarter, o.Value.Kind().String(), o.Value.String()})
		}
	case []model.BulkDataSource:
		headers = []string{"PRODUCT", "PUBLISHED", "QUARTERS", "LATEST"}
		for _, s := range data {
			latest := ""
			if len(s.AvailableQuarters) > 0 {
				latest = s.AvailableQuarters[0]
			}
			rows = append(rows, []string{s.Product, s.PublishedDate, humanize.Comma(int64(len(s.AvailableQuarters))), latest})
		}
	case []mdrm.Item:
		headers = []string{"MDRM", "NAME", "TYPE", "CONF", "FORMS"}
		for _, it := range data {
			conf := "N"
			if it.Confidential {
				conf = "Y"
			}
			rows = append(rows, []string{it.MDRM, truncate(it.ItemName, 50), it.ItemTypeExplain, conf, strings.Join(it.ReportingForms, ",")})
		}
	case *model.Table:
		return data.Headers, data.Rows, true
	default:
		return nil, nil, false
	}
	return headers, rows, true
}

func downloadRow(d *model.DownloadResult) []string {
	status := "ok"
	if !d.Success {
		status = "failed: " + d.Error
	}
	file := d.FilePath
	if file == "" {
		file = d.Filename
	}
	size := ""
	if d.SizeBytes > 0 {
		size = humanize.Bytes(uint64(d.SizeBytes))
	}
	return []string{d.Product, d.Period, d.Format, status, file, size}
}

func validationStatus(r drift.Result) string {
	switch {
	case r.Error != "":
		return "error: " + r.Error
	case r.FirstRun:
		return "first run"
	case !r.Valid:
		return "CHANGED"
	case len(r.Warnings) > 0:
		return "valid (warnings)"
	default:
		return "valid"
	}
}

// ─── Table ────────────────────────────────────────────────────────────────────

func renderTable(w io.Writer, result *model.Result) error {
	headers, rows, ok := tabulate(result)
	if !ok {
		return renderJSON(w, result)
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No results.")
		return nil
	}
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(headers)
	tw.SetBorder(true)
	tw.SetRowLine(false)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAutoWrapText(false)
	tw.AppendBulk(rows)
	tw.Render()
	return nil
}

// ─── CSV / TSV ────────────────────────────────────────────────────────────────

func renderDelimited(w io.Writer, result *model.Result, sep rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = sep

	switch data := result.Data.(type) {
	case []model.Observation:
		// Column names match the JSONL keys and the SQLite schema.
		_ = cw.Write([]string{"mdrm", "rssd", "quarter", "data_type", "value"})
		for _, o := range data {
			_ = cw.Write([]string{o.MetricCode, o.EntityID, o.Quarter, o.Value.Kind().String(), o.Value.String()})
		}
	default:
		headers, rows, ok := tabulate(result)
		if !ok {
			// Fallback: serialize as JSON on a single line
			b, _ := json.Marshal(result.Data)
			_ = cw.Write([]string{string(b)})
			break
		}
		lower := make([]string, len(headers))
		for i, h := range headers {
			lower[i] = strings.ToLower(strings.ReplaceAll(h, " ", "_"))
		}
		_ = cw.Write(lower)
		_ = cw.WriteAll(rows)
	}

	cw.Flush()
	return cw.Error()
}

// ─── Markdown ─────────────────────────────────────────────────────────────────

func renderMarkdown(w io.Writer, result *model.Result) error {
	headers, rows, ok := tabulate(result)
	if !ok {
		return renderJSON(w, result)
	}
	fmt.Fprintf(w, "| %s |\n", strings.Join(headers, " | "))
	fmt.Fprintf(w, "|%s\n", strings.Repeat("----|", len(headers)))
	for _, r := range rows {
		cells := make([]string, len(r))
		for i, c := range r {
			cells[i] = mdEscape(c)
		}
		fmt.Fprintf(w, "| %s |\n", strings.Join(cells, " | "))
	}
	return nil
}

// ─── Warnings / Stats Footer ─────────────────────────────────────────────────

// PrintFooter writes warnings and stats to w when verbose mode is on.
func PrintFooter(w io.Writer, result *model.Result, verbose bool) {
	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "⚠  %s\n", warn)
	}
	if verbose {
		fmt.Fprintf(w, "\n[%s • %s items • %dms",
			result.GeneratedAt.Format(time.RFC3339),
			humanize.Comma(int64(result.Stats.Items)),
			result.Stats.DurationMs,
		)
		if result.Stats.Skipped > 0 {
			fmt.Fprintf(w, " • %s skipped", humanize.Comma(int64(result.Stats.Skipped)))
		}
		fmt.Fprintln(w, "]")
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
