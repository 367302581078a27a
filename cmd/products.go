package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/call-report/data-collector/internal/model"
)

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "List the bulk data products offered by the portal",
	Long: `List the bulk data products with the short names accepted by
'ffiec periods' and 'ffiec download', the ListBox1 option value posted to the
portal, and the label the portal displays.`,
	Example: `  ffiec products
  ffiec products --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		start := time.Now()
		products := model.AllProducts()
		return emit(cmd, deps, newResult(model.KindProducts, "products", products, len(products), start))
	},
}

func init() {
	rootCmd.AddCommand(productsCmd)
}
