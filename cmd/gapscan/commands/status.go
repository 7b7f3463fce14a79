package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusDate string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a day's discoveries and audit verdict",
	Long: `Reads the persisted results for one date: the discovered symbols
with their rules, the day's completeness status, and the retry queue.

Example:
  go run ./cmd/gapscan status --date 2025-03-10`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusDate, "date", "", "date (YYYY-MM-DD, default: today)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	date := statusDate
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

	hits, err := deps.hits.GetHitsByDate(ctx, date)
	if err != nil {
		return fmt.Errorf("load hits: %w", err)
	}
	ruleCodes, err := deps.hits.GetRuleCodesByDate(ctx, date)
	if err != nil {
		return fmt.Errorf("load rule codes: %w", err)
	}
	dayStatus, err := deps.completeness.GetDayStatus(ctx, date)
	if err != nil {
		return fmt.Errorf("load day status: %w", err)
	}
	retryDates, err := deps.completeness.RetryDates(ctx, 10)
	if err != nil {
		return fmt.Errorf("load retry queue: %w", err)
	}

	PrintDoubleSeparator()
	fmt.Printf("  Status %s\n", date)
	PrintSeparator()
	if dayStatus == "" {
		dayStatus = "(not scanned)"
	}
	PrintKeyValue("Day status", dayStatus, 12)
	PrintKeyValue("Discoveries", fmt.Sprintf("%d", len(hits)), 12)
	PrintSeparator()

	if len(hits) > 0 {
		widths := []int{8, 36, 12, 10}
		PrintTableHeader([]string{"Symbol", "Rules", "Volume", "Push %"}, widths)
		for _, h := range hits {
			push := "-"
			if h.PushPct != nil {
				push = fmt.Sprintf("%.1f", *h.PushPct)
			}
			rulesCol := joinRules(ruleCodes[h.Symbol])
			if h.NearReverseSplit {
				rulesCol += " [RS]"
			}
			PrintTableRow([]string{
				h.Symbol,
				rulesCol,
				fmt.Sprintf("%d", h.Volume),
				push,
			}, widths)
		}
		PrintSeparator()
	}

	if len(retryDates) > 0 {
		PrintWarning(fmt.Sprintf("%d day(s) flagged for retry:", len(retryDates)))
		for _, d := range retryDates {
			fmt.Printf("   • %s\n", d)
		}
	}
	return nil
}

func joinRules(codes []string) string {
	out := ""
	for i, c := range codes {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out
}
