package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	universeDate  string
	universeForce bool
)

var universeCmd = &cobra.Command{
	Use:   "universe",
	Short: "Manage the per-date listing snapshot",
	Long: `The universe is the deterministic symbol roster the audits sample
from. It is pinned once per date; re-scans reuse the same snapshot so
the completeness math stays reproducible.

Example:
  go run ./cmd/gapscan universe pin --date 2025-03-10
  go run ./cmd/gapscan universe stats --date 2025-03-10`,
}

var universePinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Pin the active roster for a date",
	RunE:  runUniversePin,
}

var universeStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the pinned roster size for a date",
	RunE:  runUniverseStats,
}

func init() {
	rootCmd.AddCommand(universeCmd)
	universeCmd.AddCommand(universePinCmd)
	universeCmd.AddCommand(universeStatsCmd)

	universeCmd.PersistentFlags().StringVar(&universeDate, "date", "", "date (YYYY-MM-DD, default: today)")
	universePinCmd.Flags().BoolVar(&universeForce, "force", false, "replace an existing snapshot")
}

func universeDateArg() (string, error) {
	date := universeDate
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return "", fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", date)
	}
	return date, nil
}

func runUniversePin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	date, err := universeDateArg()
	if err != nil {
		return err
	}

	deps, err := initDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	roster, err := deps.sweep.ActiveRoster(ctx, false, 0)
	if err != nil {
		return fmt.Errorf("fetch roster: %w", err)
	}
	n, err := deps.universe.PinUniverse(ctx, date, roster, universeForce)
	if err != nil {
		return fmt.Errorf("pin universe: %w", err)
	}

	PrintSuccess(fmt.Sprintf("Universe for %s pinned: %d symbols", date, n))
	return nil
}

func runUniverseStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	date, err := universeDateArg()
	if err != nil {
		return err
	}

	deps, err := initDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	n, err := deps.universe.Stats(ctx, date)
	if err != nil {
		return fmt.Errorf("universe stats: %w", err)
	}
	if n == 0 {
		PrintWarning(fmt.Sprintf("No universe pinned for %s", date))
		return nil
	}
	PrintKeyValue("Date", date, 8)
	PrintKeyValue("Symbols", fmt.Sprintf("%d", n), 8)
	return nil
}
