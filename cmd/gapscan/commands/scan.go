package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	scanDate   string
	scanForce  bool
	scanOutput string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run the discovery pipeline for one trading day",
	Long: `Runs the full day pipeline: pin the universe, sweep the market,
evaluate the gap and surge rules, persist the hits, and audit coverage.

Re-running a date replaces its results; --force also re-pins the
universe snapshot.

Example:
  go run ./cmd/gapscan scan
  go run ./cmd/gapscan scan --date 2025-03-10
  go run ./cmd/gapscan scan --date 2025-03-10 --force --output json`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanDate, "date", "", "scan date (YYYY-MM-DD, default: today)")
	scanCmd.Flags().BoolVar(&scanForce, "force", false, "re-pin the universe before scanning")
	scanCmd.Flags().StringVar(&scanOutput, "output", "text", "output format (text, json)")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	date := scanDate
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", date)
	}

	deps, err := initDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	start := time.Now()
	report, err := deps.scanner.ScanDay(ctx, date, scanForce)
	if err != nil {
		return fmt.Errorf("scan %s: %w", date, err)
	}

	if scanOutput == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	PrintDoubleSeparator()
	fmt.Printf("  Scan %s\n", report.Date)
	PrintSeparator()
	PrintKeyValue("Status", report.Status, 16)
	PrintKeyValue("Discoveries", fmt.Sprintf("%d", report.Discoveries), 16)
	PrintKeyValue("Universe", fmt.Sprintf("%d symbols", report.UniverseSymbols), 16)
	PrintKeyValue("Sweep", fmt.Sprintf("%d symbols (%.1f%% coverage)", report.DailySymbols, report.CoveragePct), 16)
	PrintKeyValue("Premarket", fmt.Sprintf("%d symbols checked", report.R1Checked), 16)
	if report.Audit != nil {
		PrintKeyValue("Sampling audit", fmt.Sprintf("%s (bound %.4f, target %.4f)",
			report.Audit.Reason, report.Audit.MissRateBound, report.Audit.TargetMissRate), 16)
	}
	if report.MissAudit != nil {
		PrintKeyValue("Post-scan audit", fmt.Sprintf("%d gainers checked, %d misses, day %s",
			report.MissAudit.TopGainersChecked, report.MissAudit.MissesFound, report.MissAudit.DayStatus), 16)
	}
	PrintSeparator()
	if report.AuditFailed {
		PrintWarning(fmt.Sprintf("Completeness audit FAILED for %s, day flagged for retry", report.Date))
	} else {
		PrintSuccess(fmt.Sprintf("Scan completed in %.2fs", time.Since(start).Seconds()))
	}
	return nil
}
