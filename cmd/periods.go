package cmd

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/call-report/data-collector/internal/model"
)

var periodsSummary bool

var periodsCmd = &cobra.Command{
	Use:   "periods <PRODUCT...>",
	Short: "List the reporting periods available for a product",
	Long: `List the reporting periods the portal offers for a product, newest first.

With --summary, several products are queried in parallel (one portal session
each) and a one-line summary per product is shown: the publication date and
the number of available quarters.`,
	Example: `  ffiec periods call-single
  ffiec periods ubpr-ratio-single --format csv
  ffiec periods all --summary`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		products, err := parseProducts(args)
		if err != nil {
			return err
		}
		if len(products) > 1 && !periodsSummary {
			return fmt.Errorf("listing periods takes one product; use --summary for several")
		}

		deps, err := buildDeps()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		start := time.Now()
		command := "periods " + strings.Join(args, " ")

		if periodsSummary {
			sources, warnings := batchSources(ctx, deps, products)
			result := newResult(model.KindSources, command, sources, len(sources), start)
			result.Warnings = warnings
			if err := emit(cmd, deps, result); err != nil {
				return err
			}
			if len(sources) == 0 {
				return fmt.Errorf("no product could be queried")
			}
			return nil
		}

		client, err := deps.NewClient()
		if err != nil {
			return err
		}
		periods, err := client.SelectProduct(ctx, products[0])
		if err != nil {
			return err
		}
		if t := client.LastUpdated(products[0]); t != nil {
			slog.Info("portal data last updated", "product", products[0].String(), "at", t.Format(time.DateTime))
		}
		return emit(cmd, deps, newResult(model.KindPeriods, command, periods, len(periods), start))
	},
}

func init() {
	rootCmd.AddCommand(periodsCmd)
	periodsCmd.Flags().BoolVar(&periodsSummary, "summary", false, "summarise several products in parallel")
}
