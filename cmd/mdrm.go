package cmd

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/call-report/data-collector/internal/export"
	"github.com/call-report/data-collector/internal/mdrm"
	"github.com/call-report/data-collector/internal/model"
)

var (
	mdrmURL    string
	mdrmForm   string
	mdrmCodes  []string
	mdrmSQLite string
)

var mdrmCmd = &cobra.Command{
	Use:   "mdrm",
	Short: "Download the MDRM data dictionary",
	Long: `Download the Federal Reserve Micro Data Reference Manual (MDRM) archive
and list its items: the MDRM code used as "mdrm" in observations, its name,
item type, confidentiality and reporting forms.

Descriptions are cleaned of HTML and carriage-return artifacts, item type
codes are translated and duplicate rows are dropped.`,
	Example: `  ffiec mdrm --form "FFIEC 031"
  ffiec mdrm --code RCON2170 --format json
  ffiec mdrm --sqlite obs.sqlite`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		start := time.Now()

		items, err := mdrm.Download(ctx, deps.Fetcher, mdrmURL)
		if err != nil {
			return err
		}

		var warnings []string
		if mdrmSQLite != "" {
			db, err := export.Open(mdrmSQLite)
			if err != nil {
				return err
			}
			defer db.Close()
			n, err := db.WriteDictionary(ctx, items)
			if err != nil {
				return err
			}
			slog.Info("dictionary written", "rows", n, "db", mdrmSQLite)
		}

		if mdrmForm != "" {
			items = mdrm.Filter(items, mdrmForm)
		}
		if len(mdrmCodes) > 0 {
			index := mdrm.Index(items)
			var picked []mdrm.Item
			for _, c := range mdrmCodes {
				it, ok := index[strings.ToUpper(strings.TrimSpace(c))]
				if !ok {
					warnings = append(warnings, fmt.Sprintf("%s: not in dictionary", c))
					continue
				}
				picked = append(picked, it)
			}
			items = picked
		}

		result := newResult(model.KindMDRM, "mdrm", items, len(items), start)
		result.Warnings = warnings
		return emit(cmd, deps, result)
	},
}

func init() {
	rootCmd.AddCommand(mdrmCmd)
	f := mdrmCmd.Flags()
	f.StringVar(&mdrmURL, "url", mdrm.DefaultURL, "MDRM archive URL")
	f.StringVar(&mdrmForm, "form", "", "only items reported on this form (e.g. \"FFIEC 041\")")
	f.StringSliceVar(&mdrmCodes, "code", nil, "look up specific MDRM codes (repeatable or comma-separated)")
	f.StringVar(&mdrmSQLite, "sqlite", "", "also write the full dictionary to this SQLite database")
}
