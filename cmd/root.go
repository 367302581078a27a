// Package cmd implements the ffiec CLI command tree.
// This file defines the root command and registers all global persistent flags.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/call-report/data-collector/internal/app"
	"github.com/call-report/data-collector/internal/config"
	"github.com/call-report/data-collector/internal/render"
)

// globalFlags holds the parsed values of all persistent (global) flags.
// Commands read from this struct via the deps they receive.
var globalFlags struct {
	BaseURL        string
	Format         string
	Out            string
	Timeout        string
	Concurrency    int
	Rate           float64
	SkipValidation bool
	Quiet          bool
	Verbose        bool
	Debug          bool
}

// rootCmd is the base command. Running `ffiec` with no subcommand
// prints help.
var rootCmd = &cobra.Command{
	Use:   "ffiec",
	Short: "FFIEC Central Data Repository bulk data collector",
	Long: `ffiec downloads Call Report and UBPR bulk files from the FFIEC Central
Data Repository public download page, checks the page for structural drift
before every session, and extracts XBRL documents into flat observation
records.

Quick start:
  ffiec products                          # list the bulk data products
  ffiec periods call-single               # list reporting periods
  ffiec validate                          # compare the portal to its baseline
  ffiec download call-single --period latest --file-format xbrl
  ffiec extract "FFIEC CDR Call Bulk XBRL 03312024.zip" --format jsonl | ffiec export --db obs.sqlite`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(cmd.ErrOrStderr())
	},
}

// Execute is the entry point called by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setupLogging installs a text slog handler on w. --debug shows request
// traces, --quiet only warnings and errors.
func setupLogging(w io.Writer) {
	level := slog.LevelInfo
	switch {
	case globalFlags.Debug:
		level = slog.LevelDebug
	case globalFlags.Quiet:
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// loadConfig resolves config and applies the persistent flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(globalFlags.BaseURL)
	if err != nil {
		return nil, err
	}

	// Apply CLI flag overrides
	cfg.Quiet = globalFlags.Quiet
	cfg.Verbose = globalFlags.Verbose
	cfg.Debug = globalFlags.Debug
	if globalFlags.SkipValidation {
		cfg.SkipValidation = true
	}

	if globalFlags.Format != "" {
		if !slices.Contains(render.Formats, globalFlags.Format) {
			return nil, fmt.Errorf("invalid --format %q (expected one of %s)", globalFlags.Format, strings.Join(render.Formats, ", "))
		}
		cfg.Format = globalFlags.Format
	}
	if globalFlags.Timeout != "" {
		d, err := time.ParseDuration(globalFlags.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid --timeout %q: %w", globalFlags.Timeout, err)
		}
		cfg.Timeout = d
	}
	if globalFlags.Concurrency > 0 {
		cfg.Concurrency = globalFlags.Concurrency
	}
	if globalFlags.Rate > 0 {
		cfg.Rate = globalFlags.Rate
	}
	return cfg, nil
}

// buildDeps resolves config and constructs the dependency container.
// Called at the start of each command's RunE.
func buildDeps() (*app.Deps, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}

func init() {
	pf := rootCmd.PersistentFlags()

	pf.StringVar(&globalFlags.BaseURL, "base-url", "",
		"bulk download page URL (overrides env FFIEC_BASE_URL and config.json)")
	pf.StringVar(&globalFlags.Format, "format", "",
		"output format: table|json|jsonl|csv|tsv|md (default: table)")
	pf.StringVar(&globalFlags.Out, "out", "",
		"write output to file instead of stdout")
	pf.StringVar(&globalFlags.Timeout, "timeout", "",
		"HTTP request timeout (e.g. 30s, 2m)")
	pf.IntVar(&globalFlags.Concurrency, "concurrency", 0,
		"max parallel portal sessions and extraction workers (default: 4)")
	pf.Float64Var(&globalFlags.Rate, "rate", 0,
		"max portal requests per second across the whole run (default: 1.0)")
	pf.BoolVar(&globalFlags.SkipValidation, "skip-validation", false,
		"download even if the portal page drifted from its baseline")
	pf.BoolVar(&globalFlags.Quiet, "quiet", false,
		"suppress all non-error output")
	pf.BoolVar(&globalFlags.Verbose, "verbose", false,
		"show timing stats after output")
	pf.BoolVar(&globalFlags.Debug, "debug", false,
		"log HTTP requests and responses (state tokens are never logged)")
}
