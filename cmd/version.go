package cmd

import (
	"encoding/json"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/call-report/data-collector/internal/render"
)

// Version is the canonical release string. The default here is the fallback
// for `go run` and untagged builds. Production builds overwrite this via:
//
//	go build -ldflags "-X github.com/call-report/data-collector/cmd.Version=v0.3.0"
var Version = "v0.2.0"

// versionInfo is the structured payload for --format json output.
type versionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	GOOS      string `json:"goos"`
	GOARCH    string `json:"goarch"`
	BuildTime string `json:"build_time,omitempty"`
}

// BuildTime is optionally injected at build time alongside Version:
//
//	-ldflags "-X github.com/call-report/data-collector/cmd.Version=v0.3.0
//	           -X github.com/call-report/data-collector/cmd.BuildTime=2026-10-01T12:00:00Z"
var BuildTime = ""

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ffiec version and build information",
	Long: `Print the ffiec version string and build metadata.

Default output is one key/value pair per line. Use --format json for
structured output.

Examples:
  ffiec version
  ffiec version --format json
  ffiec version --format json | jq .version`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := versionInfo{
			Version:   Version,
			GoVersion: runtime.Version(),
			GOOS:      runtime.GOOS,
			GOARCH:    runtime.GOARCH,
			BuildTime: BuildTime,
		}

		switch globalFlags.Format {
		case render.FormatJSON:
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		case render.FormatJSONL:
			return json.NewEncoder(cmd.OutOrStdout()).Encode(info)
		}

		rows := [][]string{
			{"ffiec", info.Version},
			{"go", info.GoVersion},
			{"os", info.GOOS + "/" + info.GOARCH},
		}
		if info.BuildTime != "" {
			rows = append(rows, []string{"built", info.BuildTime})
		}
		printKVTable(cmd, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
