package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/call-report/data-collector/internal/drift"
	"github.com/call-report/data-collector/internal/model"
)

var captureDryRun bool

var captureCmd = &cobra.Command{
	Use:   "capture <CATEGORY...>",
	Short: "Record fresh drift baselines for portal pages",
	Long: `Fingerprint the named pages and save the captures as their baselines,
replacing any stored ones. Run this after reviewing a change reported by
'ffiec validate'.

Use "all" to capture every known page. With --dry-run the fingerprint is
shown but nothing is saved.`,
	Example: `  ffiec capture bulk_download
  ffiec capture all
  ffiec capture taxonomy --dry-run`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		categories := args
		if len(args) == 1 && strings.EqualFold(args[0], "all") {
			categories = nil
		}
		pages, err := selectPages(deps, categories)
		if err != nil {
			return err
		}
		baselines, err := deps.Baselines()
		if err != nil {
			return err
		}
		v := drift.NewValidator(deps.Fetcher, baselines, pages)

		ctx, cancel := commandContext(cmd)
		defer cancel()
		start := time.Now()

		tbl := &model.Table{Headers: []string{"CATEGORY", "HASH", "CONTROLS", "PRODUCTS", "GENERATOR", "SAVED"}}
		var warnings []string
		for _, p := range pages {
			var fp *drift.Fingerprint
			if captureDryRun {
				fp, err = v.Capture(ctx, p.URL, p.Category)
			} else {
				fp, err = v.Recapture(ctx, p.URL, p.Category)
			}
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("%s: %v", p.Category, err))
				continue
			}
			saved := "yes"
			if captureDryRun {
				saved = "no"
			}
			tbl.Rows = append(tbl.Rows, []string{
				p.Category,
				fp.Hash,
				fmt.Sprintf("%d", len(fp.FormElements)),
				fmt.Sprintf("%d", len(fp.Products)),
				fp.GeneratorValue,
				saved,
			})
		}

		result := newResult(model.KindTable, "capture "+strings.Join(args, " "), tbl, len(tbl.Rows), start)
		result.Warnings = warnings
		if err := emit(cmd, deps, result); err != nil {
			return err
		}
		if len(tbl.Rows) == 0 {
			return fmt.Errorf("no page could be captured")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.Flags().BoolVar(&captureDryRun, "dry-run", false, "show the fingerprint without saving it")
}
