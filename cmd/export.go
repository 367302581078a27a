package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/call-report/data-collector/internal/export"
	"github.com/call-report/data-collector/internal/model"
	"github.com/call-report/data-collector/internal/pipeline"
)

var (
	exportDB string
	exportIn string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Load JSONL observations into a SQLite database",
	Long: `Read observation records in JSONL form (from stdin or --in) and upsert
them into the observations table of a SQLite database. A record with the
same (mdrm, rssd, quarter) replaces the stored one. The whole input is
written in one transaction: a single invalid record leaves the database
unchanged.`,
	Example: `  ffiec extract bulk.zip | ffiec export --db obs.sqlite
  ffiec export --in obs.jsonl --db obs.sqlite`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportDB == "" {
			return fmt.Errorf("--db is required")
		}

		var in io.Reader = cmd.InOrStdin()
		if exportIn != "" {
			f, err := os.Open(exportIn)
			if err != nil {
				return fmt.Errorf("opening input: %w", err)
			}
			defer f.Close()
			in = f
		}

		deps, err := buildDeps()
		if err != nil {
			return err
		}
		start := time.Now()

		obs, err := pipeline.ReadObservations(in)
		if err != nil {
			return err
		}

		db, err := export.Open(exportDB)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := commandContext(cmd)
		defer cancel()
		n, err := db.WriteObservations(ctx, obs)
		if err != nil {
			return err
		}
		total, err := db.Count(ctx)
		if err != nil {
			return err
		}

		tbl := &model.Table{
			Headers: []string{"DATABASE", "WRITTEN", "TOTAL"},
			Rows:    [][]string{{exportDB, fmt.Sprintf("%d", n), fmt.Sprintf("%d", total)}},
		}
		return emit(cmd, deps, newResult(model.KindTable, "export", tbl, n, start))
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&exportDB, "db", "", "SQLite database file (created if missing)")
	exportCmd.Flags().StringVar(&exportIn, "in", "", "read JSONL from file instead of stdin")
}
