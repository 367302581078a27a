package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/call-report/data-collector/internal/collector"
	"github.com/call-report/data-collector/internal/drift"
	"github.com/call-report/data-collector/internal/model"
	"github.com/call-report/data-collector/internal/portal"
)

var (
	downloadPeriod     string
	downloadFileFormat string
	downloadExtract    bool
	downloadNoSave     bool
)

var downloadCmd = &cobra.Command{
	Use:   "download <PRODUCT...>",
	Short: "Download bulk files for one or more products",
	Long: `Download a bulk data file for each product, one portal session per product.

The bulk download page is first compared with its stored baseline. A critical
structural change aborts the download; pass --skip-validation to download
anyway. The first run saves the baseline.

--period accepts MM/DD/YYYY, YYYYMMDD or "latest". Files are written to the
download directory (config download_dir, env FFIEC_DOWNLOAD_DIR, default the
working directory) unless --no-save is given.

With --extract (XBRL only) the archive is parsed and its observations are
rendered instead of the download summary. Use --format jsonl to pipe them
into 'ffiec export'.`,
	Example: `  ffiec download call-single
  ffiec download call-single --period 03/31/2024 --file-format tsv
  ffiec download call-single ubpr-ratio-single --period 20231231
  ffiec download call-single --extract --no-save --format jsonl | ffiec export --db obs.sqlite`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		products, err := parseProducts(args)
		if err != nil {
			return err
		}
		format, err := model.ParseFileFormat(downloadFileFormat)
		if err != nil {
			return err
		}
		if downloadExtract && format != model.XBRL {
			return fmt.Errorf("--extract requires --file-format xbrl")
		}
		if downloadNoSave && !downloadExtract {
			return fmt.Errorf("--no-save only makes sense with --extract")
		}

		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		coll, err := deps.Collector()
		if err != nil {
			return err
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		start := time.Now()

		jobs := make([]collector.Job, len(products))
		for i, p := range products {
			jobs[i] = collector.Job{
				Product: p,
				Period:  downloadPeriod,
				Format:  format,
				Save:    !downloadNoSave,
				Extract: downloadExtract,
			}
		}

		outcomes, err := coll.CollectMany(ctx, jobs)
		if err != nil {
			var changed *drift.ChangedError
			if errors.As(err, &changed) {
				return fmt.Errorf("%w\n\nReview the page, then run 'ffiec capture %s' to accept it,\nor pass --skip-validation to download anyway",
					err, drift.CategoryBulkDownload)
			}
			return err
		}

		command := "download " + strings.Join(args, " ")
		warnings, failed := outcomeWarnings(outcomes)

		var result *model.Result
		if downloadExtract {
			var obs []model.Observation
			skipped := 0
			for _, o := range outcomes {
				obs = append(obs, o.Observations()...)
				if o.Summary != nil {
					skipped += o.Summary.Skipped
				}
			}
			result = newResult(model.KindObservations, command, obs, len(obs), start)
			result.Stats.Skipped = skipped
		} else {
			downloads := make([]*model.DownloadResult, len(outcomes))
			for i, o := range outcomes {
				downloads[i] = outcomeDownload(o)
			}
			result = newResult(model.KindDownloads, command, downloads, len(downloads), start)
		}
		result.Warnings = warnings

		if downloadExtract {
			err = emitObservations(cmd, deps, result)
		} else {
			err = emit(cmd, deps, result)
		}
		if err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d downloads failed", failed, len(outcomes))
		}
		return nil
	},
}

// outcomeWarnings merges the warnings of a batch, dropping the validation
// advisories every outcome repeats, and counts failed jobs.
func outcomeWarnings(outcomes []*collector.Outcome) ([]string, int) {
	seen := make(map[string]bool)
	var warnings []string
	add := func(w string) {
		if !seen[w] {
			seen[w] = true
			warnings = append(warnings, w)
		}
	}

	failed := 0
	for _, o := range outcomes {
		if o.Validation != nil && o.Validation.FirstRun {
			add("first run: baseline saved for " + o.Validation.Category)
		}
		for _, w := range o.Warnings {
			add(w)
		}
		if o.Error != "" {
			failed++
			add(fmt.Sprintf("%s: %s", o.Job.Product, o.Error))
		}
	}
	return warnings, failed
}

// outcomeDownload returns the outcome's download result, synthesising a
// failed one when the job stopped before the portal answered.
func outcomeDownload(o *collector.Outcome) *model.DownloadResult {
	if o.Download != nil {
		return o.Download
	}
	period := o.Job.Period
	if period == "" {
		period = portal.LatestPeriod
	}
	return &model.DownloadResult{
		Product: o.Job.Product.String(),
		Period:  period,
		Format:  o.Job.Format.String(),
		Error:   o.Error,
	}
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	f := downloadCmd.Flags()
	f.StringVar(&downloadPeriod, "period", portal.LatestPeriod, "reporting period: MM/DD/YYYY, YYYYMMDD or latest")
	f.StringVar(&downloadFileFormat, "file-format", "xbrl", "bulk file format: xbrl|tsv")
	f.BoolVar(&downloadExtract, "extract", false, "parse the XBRL archive and output observations")
	f.BoolVar(&downloadNoSave, "no-save", false, "keep the payload in memory (requires --extract)")
}
