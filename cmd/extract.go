package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/call-report/data-collector/internal/app"
	"github.com/call-report/data-collector/internal/model"
	"github.com/call-report/data-collector/internal/pipeline"
	"github.com/call-report/data-collector/internal/render"
	"github.com/call-report/data-collector/internal/xbrl"
)

var (
	extractMemberMarker string
	extractNoRecord     bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <ARCHIVE...>",
	Short: "Extract observations from downloaded XBRL bulk archives",
	Long: `Parse the per-institution XBRL documents of one or more bulk archives into
flat observation records (mdrm, rssd, quarter, typed value).

Only archive members whose name contains the member marker (default "RSSD")
are read. Items that cannot be parsed are skipped and counted; use --verbose
to see the skip totals and --debug to log each one. An extraction summary is
recorded in the local database for 'ffiec history extractions'.

When stdout is a pipe and no --format is given, output is JSONL so it can be
piped into 'ffiec export'.`,
	Example: `  ffiec extract "FFIEC CDR Call Bulk XBRL 03312024.zip"
  ffiec extract *.zip --format jsonl > obs.jsonl
  ffiec extract bulk.zip | ffiec export --db obs.sqlite`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()
		if !extractNoRecord {
			if err := deps.RequireStore(); err != nil {
				return err
			}
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		start := time.Now()
		opts := xbrl.Options{Workers: deps.Config.Concurrency, MemberMarker: extractMemberMarker}

		var obs []model.Observation
		var warnings []string
		skipped, failed := 0, 0
		for _, path := range args {
			res, err := xbrl.ExtractFile(ctx, path, opts)
			if err != nil {
				failed++
				warnings = append(warnings, fmt.Sprintf("%s: %v", path, err))
				continue
			}
			sum := res.Summary(filepath.Base(path), time.Now())
			if sum.Status != xbrl.StatusOK {
				warnings = append(warnings, fmt.Sprintf("%s: extraction status %s (%d of %d members failed, %d elements skipped)",
					sum.Source, sum.Status, sum.MembersFailed, sum.MembersMatched, sum.Skipped))
			}
			if deps.Store != nil {
				if err := deps.Store.RecordExtraction(sum); err != nil {
					warnings = append(warnings, fmt.Sprintf("%s: recording extraction: %v", sum.Source, err))
				}
			}
			obs = append(obs, res.Observations...)
			skipped += res.Stats.Skipped
		}

		result := newResult(model.KindObservations, "extract "+strings.Join(args, " "), obs, len(obs), start)
		result.Warnings = warnings
		result.Stats.Skipped = skipped
		if err := emitObservations(cmd, deps, result); err != nil {
			return err
		}
		if failed == len(args) {
			return fmt.Errorf("no archive could be extracted")
		}
		return nil
	},
}

// emitObservations renders an observations result. With no explicit
// --format or --out and a piped stdout, it writes plain JSONL.
func emitObservations(cmd *cobra.Command, deps *app.Deps, result *model.Result) error {
	if globalFlags.Format == "" && globalFlags.Out == "" && !pipeline.IsTTY() {
		obs, _ := result.Data.([]model.Observation)
		if err := pipeline.WriteJSONL(cmd.OutOrStdout(), obs); err != nil {
			return err
		}
		if !deps.Config.Quiet {
			render.PrintFooter(cmd.ErrOrStderr(), result, deps.Config.Verbose)
		}
		return nil
	}
	return emit(cmd, deps, result)
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().StringVar(&extractMemberMarker, "member-marker", xbrl.DefaultMemberMarker, "substring selecting the archive members to read")
	extractCmd.Flags().BoolVar(&extractNoRecord, "no-record", false, "do not record the extraction summary in the local database")
}
