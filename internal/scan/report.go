package scan

import "github.com/wonny/gapscan/internal/audit"

// Scan statuses.
const (
	StatusOK             = "ok"
	StatusNoGroupedDaily = "no_grouped_daily"
)

// Report summarizes one day's scan for the CLI and the monitoring API.
type Report struct {
	Status          string                `json:"status"`
	Date            string                `json:"date"`
	Discoveries     int                   `json:"discoveries"`
	AuditFailed     bool                  `json:"audit_failed"`
	UniverseSymbols int                   `json:"universe_symbols"`
	DailySymbols    int                   `json:"daily_symbols"`
	CoveragePct     float64               `json:"coverage_pct"`
	R1Checked       int                   `json:"r1_checked"`
	Audit           *audit.Result         `json:"audit,omitempty"`
	MissAudit       *audit.PostScanResult `json:"miss_audit,omitempty"`
	Error           string                `json:"error,omitempty"`
}
