package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/gapscan/pkg/logger"
)

// RetryLister serves the dates still flagged for a re-scan.
type RetryLister interface {
	RetryDates(ctx context.Context, limit int) ([]string, error)
}

// retrySweepBatch bounds how many flagged days one sweep re-runs.
const retrySweepBatch = 5

// RetrySweepJob re-scans days whose post-scan audit flagged
// RETRY_NEEDED, usually because the terminal was unreachable or rate
// limited during the original run.
type RetrySweepJob struct {
	scanner DayScanner
	retries RetryLister
	logger  *logger.Logger
}

func NewRetrySweepJob(scanner DayScanner, retries RetryLister, log *logger.Logger) *RetrySweepJob {
	return &RetrySweepJob{scanner: scanner, retries: retries, logger: log}
}

func (j *RetrySweepJob) Name() string {
	return "retry_sweep"
}

// Schedule returns the cron schedule: 20:00 on weekdays, well after the
// daily scan so a flaky afternoon has time to clear.
func (j *RetrySweepJob) Schedule() string {
	return "0 0 20 * * 1-5"
}

func (j *RetrySweepJob) Run(ctx context.Context) error {
	dates, err := j.retries.RetryDates(ctx, retrySweepBatch)
	if err != nil {
		return fmt.Errorf("list retry dates: %w", err)
	}
	if len(dates) == 0 {
		j.logger.Info("Retry sweep found nothing to do")
		return nil
	}

	var failed int
	for _, date := range dates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		j.logger.WithField("date", date).Info("Re-scanning flagged day")

		report, err := j.scanner.ScanDay(ctx, date, true)
		if err != nil {
			failed++
			j.logger.WithError(err).WithField("date", date).Error("Re-scan failed")
			continue
		}
		j.logger.WithFields(map[string]interface{}{
			"date":         date,
			"status":       report.Status,
			"discoveries":  report.Discoveries,
			"audit_failed": report.AuditFailed,
		}).Info("Re-scan completed")
	}

	if failed > 0 {
		return fmt.Errorf("retry sweep: %d of %d days failed", failed, len(dates))
	}
	return nil
}
