package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	auditDate   string
	auditOutput string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Re-run the sampling completeness audit for a scanned day",
	Long: `Recomputes the statistical completeness verdict for a date that has
already been scanned, using the stored universe, hits, and bars. The
discovery results themselves are untouched.

Useful after the terminal comes back up: a day that failed its audit on
provider errors can be re-audited without re-running the scan.

Example:
  go run ./cmd/gapscan audit --date 2025-03-10
  go run ./cmd/gapscan audit --date 2025-03-10 --output json`,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().StringVar(&auditDate, "date", "", "audit date (YYYY-MM-DD, default: today)")
	auditCmd.Flags().StringVar(&auditOutput, "output", "text", "output format (text, json)")
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	date := auditDate
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

	res, err := deps.scanner.AuditDay(ctx, date)
	if err != nil {
		return fmt.Errorf("audit %s: %w", date, err)
	}

	if auditOutput == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	PrintDoubleSeparator()
	fmt.Printf("  Completeness audit %s\n", res.Date)
	PrintSeparator()
	PrintKeyValue("Roster", fmt.Sprintf("%d symbols", res.RosterSize), 16)
	PrintKeyValue("Undiscovered", fmt.Sprintf("%d", res.UndiscoveredN), 16)
	PrintKeyValue("Sample", fmt.Sprintf("%d drawn, %d checked, %d ineligible",
		res.SampleSize, res.SamplesChecked, res.Ineligible), 16)
	PrintKeyValue("Misses", fmt.Sprintf("%d", res.ObservedMisses), 16)
	PrintKeyValue("Miss bound", fmt.Sprintf("%.4f (target %.4f at %.0f%% confidence)",
		res.MissRateBound, res.TargetMissRate, res.ConfidenceLevel*100), 16)
	PrintSeparator()
	if res.Passed {
		PrintSuccess(fmt.Sprintf("Audit passed: %s", res.Reason))
	} else {
		PrintWarning(fmt.Sprintf("Audit failed: %s", res.Reason))
	}
	return nil
}
