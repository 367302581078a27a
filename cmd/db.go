package cmd

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/call-report/data-collector/internal/store"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect and manage the local database",
	Long: `Commands for inspecting and clearing the local bbolt database that holds
download history, extraction summaries and (with baselines = "db") drift
baselines.`,
}

// ─── db stats ─────────────────────────────────────────────────────────────────

var dbStatsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show row counts and sizes for each bucket",
	Example: `  ffiec db stats`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.RequireStore(); err != nil {
			return err
		}
		defer deps.Close()

		stats, err := deps.Store.Stats()
		if err != nil {
			return fmt.Errorf("reading store stats: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Database: %s\n\n", deps.Store.Path())
		printSimpleTable(cmd.OutOrStdout(), []string{"BUCKET", "ROWS", "SIZE"}, func(add func(...string)) {
			for _, s := range stats {
				add(s.Name, humanize.Comma(int64(s.Count)), humanize.Bytes(uint64(s.Bytes)))
			}
		})
		return nil
	},
}

// ─── db clear ─────────────────────────────────────────────────────────────────

var (
	dbClearAll    bool
	dbClearBucket string
)

var dbClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete entries from the local database",
	Long: `Delete entries from one or all buckets.

Clearing the baselines bucket makes the next validation a first run.
bbolt does not shrink the file after clearing; run 'ffiec db compact' to
reclaim disk space.`,
	Example: `  ffiec db clear --all
  ffiec db clear --bucket downloads`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		buckets := strings.Join(store.AllBuckets, ", ")
		if !dbClearAll && dbClearBucket == "" {
			return fmt.Errorf("specify --all or --bucket <n>\n\nBuckets: %s", buckets)
		}
		if dbClearBucket != "" && !knownBucket(dbClearBucket) {
			return fmt.Errorf("unknown bucket %q\n\nBuckets: %s", dbClearBucket, buckets)
		}

		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.RequireStore(); err != nil {
			return err
		}
		defer deps.Close()

		if dbClearAll {
			if err := deps.Store.ClearAll(); err != nil {
				return fmt.Errorf("clearing all buckets: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Cleared all buckets")
		} else {
			if err := deps.Store.ClearBucket(dbClearBucket); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Cleared bucket %q\n", dbClearBucket)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "  Run 'ffiec db compact' to reclaim disk space.")
		return nil
	},
}

// ─── db compact ───────────────────────────────────────────────────────────────

var dbCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Rewrite the database file to reclaim freed disk space",
	Long: `Compact copies all live data into a new file and swaps it in place of the
original. The database remains usable afterwards.`,
	Example: `  ffiec db compact`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.RequireStore(); err != nil {
			return err
		}
		// Compact reopens the bolt handle in place, so the store is still
		// valid for Close.
		defer deps.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "Compacting %s ...\n", deps.Store.Path())
		before, after, err := deps.Store.Compact()
		if err != nil {
			return fmt.Errorf("compaction failed: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✓ Compaction complete\n")
		fmt.Fprintf(cmd.OutOrStdout(), "  Before: %s\n", humanize.Bytes(uint64(before)))
		fmt.Fprintf(cmd.OutOrStdout(), "  After:  %s\n", humanize.Bytes(uint64(after)))
		if saved := before - after; saved > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "  Saved:  %s\n", humanize.Bytes(uint64(saved)))
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "  No space reclaimed (database was already compact).")
		}
		return nil
	},
}

func knownBucket(name string) bool {
	for _, b := range store.AllBuckets {
		if b == name {
			return true
		}
	}
	return false
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbStatsCmd)
	dbCmd.AddCommand(dbClearCmd)
	dbCmd.AddCommand(dbCompactCmd)

	dbClearCmd.Flags().BoolVar(&dbClearAll, "all", false, "clear all buckets")
	dbClearCmd.Flags().StringVar(&dbClearBucket, "bucket", "", "clear one bucket: "+strings.Join(store.AllBuckets, "|"))
}
