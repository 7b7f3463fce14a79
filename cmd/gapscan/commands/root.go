package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gapscan",
	Short: "Same-day discovery of large equity price moves, with completeness audits",
	Long: `gapscan finds every US-listed stock that gapped or pushed 50%+
today (premarket, at the open, or intraday) or surged 300%+ over the
last 7 trading days, then statistically audits its own coverage so a
quiet miss cannot hide.

Usage:
  go run ./cmd/gapscan [command]

Examples:
  go run ./cmd/gapscan scan --date 2025-03-10
  go run ./cmd/gapscan status --date 2025-03-10
  go run ./cmd/gapscan serve
  go run ./cmd/gapscan scheduler start`,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
