package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/call-report/data-collector/internal/config"
	"github.com/call-report/data-collector/internal/render"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage ffiec configuration",
	Long:  `Read and write ffiec configuration stored in config.json.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a template config.json in the current directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultConfigFile
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config.json already exists at %s (delete it first to re-initialise)", path)
		}
		if err := config.WriteFile(path, config.Template()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Created %s\n", path)
		fmt.Fprintln(cmd.OutOrStdout(), "  Set download_dir to choose where bulk files are written.")
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current resolved configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		src := "(not found)"
		if cfg.ConfigPath != "" {
			src = cfg.ConfigPath
		}
		rows := [][]string{
			{"default_format", cfg.Format},
			{"timeout", cfg.Timeout.String()},
			{"concurrency", strconv.Itoa(cfg.Concurrency)},
			{"rate", fmt.Sprintf("%.1f req/s", cfg.Rate)},
			{"retries", strconv.Itoa(cfg.Retries)},
			{"base_url", cfg.BaseURL},
			{"download_dir", cfg.DownloadDir},
			{"thumbprint_dir", cfg.ThumbprintDir},
			{"db_path", cfg.DBPath},
			{"baselines", cfg.Baselines},
			{"skip_validation", strconv.FormatBool(cfg.SkipValidation)},
			{"config_file", src},
		}

		if resolveFormat(cfg.Format) == render.FormatJSON {
			out := make(map[string]string, len(rows))
			for _, r := range rows {
				out[r[0]] = r[1]
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
		printKVTable(cmd, rows)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in config.json",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.ToLower(args[0])

		// Load existing file or start from template
		f, path, err := loadConfigFile()
		if err != nil {
			if !os.IsNotExist(err) {
				return err
			}
			path = config.DefaultConfigFile
			tmpl := config.Template()
			f = &tmpl
		}
		if err := setConfigKey(f, key, args[1]); err != nil {
			return err
		}
		if err := config.WriteFile(path, *f); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Set %s in %s\n", key, path)
		return nil
	},
}

const configKeys = "default_format, timeout, concurrency, rate, retries, base_url, download_dir, thumbprint_dir, db_path, baselines, skip_validation"

// setConfigKey assigns val to the config.json field named key.
func setConfigKey(f *config.File, key, val string) error {
	switch key {
	case "default_format", "format":
		f.DefaultFormat = val
	case "timeout":
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("timeout must be a duration such as 30s or 2m")
		}
		f.Timeout = val
	case "concurrency":
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			return fmt.Errorf("concurrency must be a positive integer")
		}
		f.Concurrency = n
	case "rate":
		r, err := strconv.ParseFloat(val, 64)
		if err != nil || r <= 0 {
			return fmt.Errorf("rate must be a positive number")
		}
		f.Rate = r
	case "retries":
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 {
			return fmt.Errorf("retries must be a non-negative integer")
		}
		f.Retries = &n
	case "base_url":
		f.BaseURL = val
	case "download_dir":
		f.DownloadDir = val
	case "thumbprint_dir":
		f.ThumbprintDir = val
	case "db_path":
		f.DBPath = val
	case "baselines":
		if val != config.BaselinesFile && val != config.BaselinesDB {
			return fmt.Errorf("baselines must be %q or %q", config.BaselinesFile, config.BaselinesDB)
		}
		f.Baselines = val
	case "skip_validation":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("skip_validation must be true or false")
		}
		f.SkipValidation = b
	default:
		return fmt.Errorf("unknown config key: %q\n\nValid keys: %s", key, configKeys)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}

// loadConfigFile reads config.json from cwd; used by configSetCmd.
func loadConfigFile() (*config.File, string, error) {
	path := config.DefaultConfigFile
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	var f config.File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, "", fmt.Errorf("parsing %s: %w", path, err)
	}
	return &f, path, nil
}

// printKVTable renders a two-column key/value listing using aligned columns.
func printKVTable(cmd *cobra.Command, rows [][]string) {
	maxKey := 0
	for _, r := range rows {
		if len(r[0]) > maxKey {
			maxKey = len(r[0])
		}
	}
	for _, r := range rows {
		padding := strings.Repeat(" ", maxKey-len(r[0]))
		fmt.Fprintf(cmd.OutOrStdout(), "  %s%s  %s\n", r[0], padding, r[1])
	}
}
