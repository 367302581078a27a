package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/call-report/data-collector/internal/model"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded downloads and extractions",
	Long: `Inspect the download history and extraction telemetry kept in the local
database (config db_path, env FFIEC_DB_PATH, default ~/.ffiec/ffiec.db).`,
}

// ─── history downloads ────────────────────────────────────────────────────────

var (
	historyProduct string
	historyLimit   int
)

var historyDownloadsCmd = &cobra.Command{
	Use:   "downloads",
	Short: "List past download attempts, newest first",
	Example: `  ffiec history downloads
  ffiec history downloads --product call-single --limit 5`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		product := ""
		if historyProduct != "" {
			p, err := model.ParseProduct(historyProduct)
			if err != nil {
				return err
			}
			product = p.String()
		}

		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.RequireStore(); err != nil {
			return err
		}
		defer deps.Close()
		start := time.Now()

		recs, err := deps.Store.ListDownloads(product)
		if err != nil {
			return fmt.Errorf("reading download history: %w", err)
		}

		tbl := &model.Table{Headers: []string{"WHEN", "PRODUCT", "PERIOD", "FORMAT", "STATUS", "SIZE"}}
		for i := len(recs) - 1; i >= 0; i-- {
			if historyLimit > 0 && len(tbl.Rows) == historyLimit {
				break
			}
			r := recs[i]
			status := "ok"
			if !r.Success {
				status = "failed"
			}
			size := ""
			if r.SizeBytes > 0 {
				size = humanize.Bytes(uint64(r.SizeBytes))
			}
			tbl.Rows = append(tbl.Rows, []string{
				humanize.Time(r.RecordedAt), r.Product, r.Period, r.Format, status, size,
			})
		}
		return emit(cmd, deps, newResult(model.KindTable, "history downloads", tbl, len(tbl.Rows), start))
	},
}

// ─── history extractions ──────────────────────────────────────────────────────

var historyExtractionsCmd = &cobra.Command{
	Use:   "extractions [SOURCE]",
	Short: "List extraction summaries, or the skip reasons of one archive",
	Example: `  ffiec history extractions
  ffiec history extractions "FFIEC CDR Call Bulk XBRL 03312024.zip"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.RequireStore(); err != nil {
			return err
		}
		defer deps.Close()
		start := time.Now()

		if len(args) == 1 {
			sum, ok, err := deps.Store.GetExtraction(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no extraction recorded for %q", args[0])
			}
			reasons := make([]string, 0, len(sum.SkipReasons))
			for r := range sum.SkipReasons {
				reasons = append(reasons, r)
			}
			sort.Strings(reasons)
			tbl := &model.Table{Headers: []string{"SKIP REASON", "COUNT"}}
			for _, r := range reasons {
				tbl.Rows = append(tbl.Rows, []string{r, humanize.Comma(int64(sum.SkipReasons[r]))})
			}
			result := newResult(model.KindTable, "history extractions "+args[0], tbl, len(tbl.Rows), start)
			result.Warnings = []string{fmt.Sprintf("%s: status %s, %s of %s elements extracted",
				sum.Source, sum.Status, humanize.Comma(int64(sum.Extracted)), humanize.Comma(int64(sum.Elements)))}
			return emit(cmd, deps, result)
		}

		sums, err := deps.Store.ListExtractions()
		if err != nil {
			return fmt.Errorf("reading extraction history: %w", err)
		}
		tbl := &model.Table{Headers: []string{"SOURCE", "STATUS", "MEMBERS", "FAILED", "EXTRACTED", "SKIPPED", "WHEN"}}
		for _, s := range sums {
			tbl.Rows = append(tbl.Rows, []string{
				s.Source,
				s.Status,
				humanize.Comma(int64(s.MembersMatched)),
				humanize.Comma(int64(s.MembersFailed)),
				humanize.Comma(int64(s.Extracted)),
				humanize.Comma(int64(s.Skipped)),
				humanize.Time(s.ExtractedAt),
			})
		}
		return emit(cmd, deps, newResult(model.KindTable, "history extractions", tbl, len(tbl.Rows), start))
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyDownloadsCmd)
	historyCmd.AddCommand(historyExtractionsCmd)

	historyDownloadsCmd.Flags().StringVar(&historyProduct, "product", "", "only this product ("+strings.ReplaceAll(productNames(), ", ", "|")+")")
	historyDownloadsCmd.Flags().IntVar(&historyLimit, "limit", 0, "show at most N entries (0 = all)")
}
