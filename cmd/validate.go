package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/call-report/data-collector/internal/app"
	"github.com/call-report/data-collector/internal/drift"
	"github.com/call-report/data-collector/internal/model"
)

var validateCmd = &cobra.Command{
	Use:   "validate [CATEGORY...]",
	Short: "Check portal pages for structural drift",
	Long: `Fetch each known portal page, fingerprint its form structure and compare
it with the stored baseline.

Categories: bulk_download, taxonomy, bhc_financial (default: all).

A page with no baseline is recorded as the baseline ("first run"). Critical
changes (state token fields, form controls, product options) fail the command;
advisory changes are listed as warnings. Baselines are never replaced by
validation: use 'ffiec capture' to accept a changed page.`,
	Example: `  ffiec validate
  ffiec validate bulk_download
  ffiec validate --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		pages, err := selectPages(deps, args)
		if err != nil {
			return err
		}
		baselines, err := deps.Baselines()
		if err != nil {
			return err
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		start := time.Now()

		results := drift.NewValidator(deps.Fetcher, baselines, pages).ValidateAll(ctx)
		result := newResult(model.KindValidation, strings.TrimSpace("validate "+strings.Join(args, " ")), results, len(results), start)

		var bad []string
		for _, r := range results {
			if !r.Valid {
				bad = append(bad, r.Category)
			}
		}
		if err := emit(cmd, deps, result); err != nil {
			return err
		}
		if len(bad) > 0 {
			return fmt.Errorf("validation failed for %s", strings.Join(bad, ", "))
		}
		return nil
	},
}

// selectPages returns the catalogue entries named by categories, or the
// whole catalogue when none are given.
func selectPages(deps *app.Deps, categories []string) ([]drift.Page, error) {
	all := deps.Pages()
	if len(categories) == 0 {
		return all, nil
	}
	pages := make([]drift.Page, 0, len(categories))
	for _, c := range categories {
		p, ok := drift.LookupPage(all, strings.ToLower(c))
		if !ok {
			return nil, fmt.Errorf("unknown page category %q\n\nCategories: %s", c, categoryNames(all))
		}
		pages = append(pages, p)
	}
	return pages, nil
}

func categoryNames(pages []drift.Page) string {
	names := make([]string, len(pages))
	for i, p := range pages {
		names[i] = p.Category
	}
	return strings.Join(names, ", ")
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
