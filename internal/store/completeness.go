package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/gapscan/internal/audit"
	"github.com/wonny/gapscan/internal/theta"
)

// DayCompleteness is the per-day coverage record.
type DayCompleteness struct {
	Date            string
	DailySymbols    int
	UniverseSymbols int
	R2R3Candidates  int
	R1Checked       int
	R1Hits          int
	AuditSample     int
	AuditHits       int
	AuditFailed     bool
	Status          string
}

// CompletenessRepository persists day-completeness rows, audit results,
// miss-audit records, and provider diagnostics.
type CompletenessRepository struct {
	pool *pgxpool.Pool
}

func NewCompletenessRepository(pool *pgxpool.Pool) *CompletenessRepository {
	return &CompletenessRepository{pool: pool}
}

// SaveDayCompleteness upserts the coverage row for one scan date.
func (r *CompletenessRepository) SaveDayCompleteness(ctx context.Context, c *DayCompleteness) error {
	query := `
		INSERT INTO discovery.day_completeness
			(scan_date, daily_symbols, universe_symbols, r2r3_candidates,
			 r1_checked, r1_hits, audit_sample, audit_hits, audit_failed, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (scan_date) DO UPDATE SET
			daily_symbols = EXCLUDED.daily_symbols,
			universe_symbols = EXCLUDED.universe_symbols,
			r2r3_candidates = EXCLUDED.r2r3_candidates,
			r1_checked = EXCLUDED.r1_checked,
			r1_hits = EXCLUDED.r1_hits,
			audit_sample = EXCLUDED.audit_sample,
			audit_hits = EXCLUDED.audit_hits,
			audit_failed = EXCLUDED.audit_failed,
			status = EXCLUDED.status,
			updated_at = NOW()
	`
	_, err := r.pool.Exec(ctx, query,
		c.Date, c.DailySymbols, c.UniverseSymbols, c.R2R3Candidates,
		c.R1Checked, c.R1Hits, c.AuditSample, c.AuditHits, c.AuditFailed, c.Status)
	if err != nil {
		return fmt.Errorf("save day completeness %s: %w", c.Date, err)
	}
	return nil
}

// GetDayStatus returns the stored status for a date ("" when the date
// has never been scanned). The retry sweep keys off RETRY_NEEDED rows.
func (r *CompletenessRepository) GetDayStatus(ctx context.Context, date string) (string, error) {
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT status FROM discovery.day_completeness WHERE scan_date = $1`, date).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("day status %s: %w", date, err)
	}
	return status, nil
}

// RetryDates lists dates whose completeness row demands a retry.
func (r *CompletenessRepository) RetryDates(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.pool.Query(ctx, `
		SELECT scan_date::text FROM discovery.day_completeness
		WHERE status = $1
		ORDER BY scan_date DESC
		LIMIT $2
	`, audit.DayStatusRetryNeeded, limit)
	if err != nil {
		return nil, fmt.Errorf("retry dates: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveAuditResult upserts the sampling-audit outcome for one date.
func (r *CompletenessRepository) SaveAuditResult(ctx context.Context, res *audit.Result) error {
	query := `
		INSERT INTO discovery.audit_results
			(audit_date, passed, reason, roster_size, undiscovered_count,
			 required_n, sample_size, samples_checked, observed_misses,
			 miss_rate_bound, target_miss_rate, confidence_level, audit_errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (audit_date) DO UPDATE SET
			passed = EXCLUDED.passed,
			reason = EXCLUDED.reason,
			roster_size = EXCLUDED.roster_size,
			undiscovered_count = EXCLUDED.undiscovered_count,
			required_n = EXCLUDED.required_n,
			sample_size = EXCLUDED.sample_size,
			samples_checked = EXCLUDED.samples_checked,
			observed_misses = EXCLUDED.observed_misses,
			miss_rate_bound = EXCLUDED.miss_rate_bound,
			target_miss_rate = EXCLUDED.target_miss_rate,
			confidence_level = EXCLUDED.confidence_level,
			audit_errors = EXCLUDED.audit_errors
	`
	_, err := r.pool.Exec(ctx, query,
		res.Date, res.Passed, res.Reason, res.RosterSize, res.UndiscoveredN,
		res.RequiredN, res.SampleSize, res.SamplesChecked, res.ObservedMisses,
		res.MissRateBound, res.TargetMissRate, res.ConfidenceLevel, res.Errors)
	if err != nil {
		return fmt.Errorf("save audit result %s: %w", res.Date, err)
	}
	return nil
}

// SaveMissAudit upserts post-scan audit rows, keyed
// (date, symbol, audit_type).
func (r *CompletenessRepository) SaveMissAudit(ctx context.Context, date string, records []audit.MissRecord) error {
	query := `
		INSERT INTO discovery.miss_audit
			(audit_date, symbol, audit_type, missed_initially, rule_code, rule_value)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (audit_date, symbol, audit_type) DO UPDATE SET
			missed_initially = EXCLUDED.missed_initially,
			rule_code = EXCLUDED.rule_code,
			rule_value = EXCLUDED.rule_value
	`
	for _, rec := range records {
		if _, err := r.pool.Exec(ctx, query,
			date, rec.Symbol, rec.AuditType, rec.Missed, rec.RuleCode, rec.Value); err != nil {
			return fmt.Errorf("save miss audit %s %s: %w", date, rec.Symbol, err)
		}
	}
	return nil
}

// SaveProviderDiag upserts the per-label provider tallies for one date.
func (r *CompletenessRepository) SaveProviderDiag(ctx context.Context, date string, diag map[string]theta.DiagCounts) error {
	query := `
		INSERT INTO discovery.provider_diag
			(diag_date, label, ok_count, no_data_count, rate_limited_count, other_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (diag_date, label) DO UPDATE SET
			ok_count = EXCLUDED.ok_count,
			no_data_count = EXCLUDED.no_data_count,
			rate_limited_count = EXCLUDED.rate_limited_count,
			other_count = EXCLUDED.other_count
	`
	for label, c := range diag {
		if _, err := r.pool.Exec(ctx, query,
			date, label, c.OK, c.NoData, c.RateLimited, c.Other); err != nil {
			return fmt.Errorf("save provider diag %s %s: %w", date, label, err)
		}
	}
	return nil
}

// GetProviderDiag returns the stored tallies for one date.
func (r *CompletenessRepository) GetProviderDiag(ctx context.Context, date string) (map[string]theta.DiagCounts, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT label, ok_count, no_data_count, rate_limited_count, other_count
		FROM discovery.provider_diag
		WHERE diag_date = $1
	`, date)
	if err != nil {
		return nil, fmt.Errorf("provider diag %s: %w", date, err)
	}
	defer rows.Close()

	out := make(map[string]theta.DiagCounts)
	for rows.Next() {
		var label string
		var c theta.DiagCounts
		if err := rows.Scan(&label, &c.OK, &c.NoData, &c.RateLimited, &c.Other); err != nil {
			return nil, err
		}
		out[label] = c
	}
	return out, rows.Err()
}
