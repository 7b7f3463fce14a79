// Package jobs holds the scheduled entry points: the end-of-day scan
// and the retry sweep over days that did not reach a complete verdict.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/gapscan/internal/scan"
	"github.com/wonny/gapscan/pkg/logger"
)

// DayScanner runs the discovery pipeline for one date.
type DayScanner interface {
	ScanDay(ctx context.Context, date string, force bool) (*scan.Report, error)
}

// DailyScanJob scans the current trading day after the close.
type DailyScanJob struct {
	scanner DayScanner
	logger  *logger.Logger
}

func NewDailyScanJob(scanner DayScanner, log *logger.Logger) *DailyScanJob {
	return &DailyScanJob{scanner: scanner, logger: log}
}

func (j *DailyScanJob) Name() string {
	return "daily_scan"
}

// Schedule returns the cron schedule: 16:30 on weekdays, after the
// close so the grouped-daily sweep is final.
func (j *DailyScanJob) Schedule() string {
	return "0 30 16 * * 1-5"
}

func (j *DailyScanJob) Run(ctx context.Context) error {
	date := marketToday()
	j.logger.WithField("date", date).Info("Starting scheduled daily scan")

	report, err := j.scanner.ScanDay(ctx, date, false)
	if err != nil {
		return fmt.Errorf("daily scan %s: %w", date, err)
	}

	j.logger.WithFields(map[string]interface{}{
		"date":         date,
		"status":       report.Status,
		"discoveries":  report.Discoveries,
		"audit_failed": report.AuditFailed,
	}).Info("Scheduled daily scan completed")
	return nil
}

// marketToday is the current date in the exchange's timezone, so a scan
// kicked off late in UTC terms still targets the right session.
func marketToday() string {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return time.Now().In(loc).Format("2006-01-02")
}
