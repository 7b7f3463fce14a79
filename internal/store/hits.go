// Package store holds the pgx repositories for discovery hits, daily
// bars, the pinned universe, and completeness records. Re-running a day
// is always safe: hits upsert on (symbol, event_date), rule rows ignore
// duplicates, and the orchestrator deletes the date before rewriting.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Hit is one persisted discovery.
type Hit struct {
	HitID            int64
	Symbol           string
	EventDate        string
	Volume           int64
	PushPct          *float64
	NearReverseSplit bool
	RSExecDate       *string
	RSDaysAfter      *int
	Exchange         string
	PMSource         *string
	PMVenue          *string
}

// RuleValue is one triggered rule attached to a hit.
type RuleValue struct {
	Code  string
	Value float64
}

// HitRepository persists discovery hits and their rule rows.
type HitRepository struct {
	pool *pgxpool.Pool
}

func NewHitRepository(pool *pgxpool.Pool) *HitRepository {
	return &HitRepository{pool: pool}
}

// UpsertHit inserts or updates one hit and returns its hit_id.
func (r *HitRepository) UpsertHit(ctx context.Context, h *Hit) (int64, error) {
	query := `
		INSERT INTO discovery.hits
			(symbol, event_date, volume, push_pct, near_reverse_split,
			 rs_exec_date, rs_days_after, exchange, pm_source, pm_venue)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (symbol, event_date) DO UPDATE SET
			volume = EXCLUDED.volume,
			push_pct = EXCLUDED.push_pct,
			near_reverse_split = EXCLUDED.near_reverse_split,
			rs_exec_date = EXCLUDED.rs_exec_date,
			rs_days_after = EXCLUDED.rs_days_after,
			exchange = EXCLUDED.exchange,
			pm_source = EXCLUDED.pm_source,
			pm_venue = EXCLUDED.pm_venue
		RETURNING hit_id
	`

	var hitID int64
	err := r.pool.QueryRow(ctx, query,
		h.Symbol, h.EventDate, h.Volume, h.PushPct, h.NearReverseSplit,
		h.RSExecDate, h.RSDaysAfter, h.Exchange, h.PMSource, h.PMVenue,
	).Scan(&hitID)
	if err != nil {
		return 0, fmt.Errorf("upsert hit %s %s: %w", h.Symbol, h.EventDate, err)
	}
	return hitID, nil
}

// InsertRules attaches rule rows to a hit. Duplicate (hit_id, rule_code)
// pairs are ignored so re-runs never multiply rules.
func (r *HitRepository) InsertRules(ctx context.Context, hitID int64, ruleRows []RuleValue) error {
	query := `
		INSERT INTO discovery.hit_rules (hit_id, rule_code, rule_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (hit_id, rule_code) DO NOTHING
	`
	for _, rv := range ruleRows {
		if _, err := r.pool.Exec(ctx, query, hitID, rv.Code, rv.Value); err != nil {
			return fmt.Errorf("insert rule %s for hit %d: %w", rv.Code, hitID, err)
		}
	}
	return nil
}

// DeleteDate removes all hits (and, via cascade, rule rows) for one
// event date ahead of a rewrite.
func (r *HitRepository) DeleteDate(ctx context.Context, date string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM discovery.hits WHERE event_date = $1`, date); err != nil {
		return fmt.Errorf("delete hits for %s: %w", date, err)
	}
	return nil
}

// GetRuleCodesByDate returns {symbol: [rule codes]} for one event date.
// The post-scan audit compares its rechecks against this.
func (r *HitRepository) GetRuleCodesByDate(ctx context.Context, date string) (map[string][]string, error) {
	query := `
		SELECT h.symbol, r.rule_code
		FROM discovery.hits h
		JOIN discovery.hit_rules r ON r.hit_id = h.hit_id
		WHERE h.event_date = $1
	`
	rows, err := r.pool.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("rule codes for %s: %w", date, err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var symbol, code string
		if err := rows.Scan(&symbol, &code); err != nil {
			return nil, err
		}
		out[symbol] = append(out[symbol], code)
	}
	return out, rows.Err()
}

// GetHitsByDate returns the persisted hits for one date, rule rows
// included, for the report API.
func (r *HitRepository) GetHitsByDate(ctx context.Context, date string) ([]*Hit, error) {
	query := `
		SELECT hit_id, symbol, event_date, volume, push_pct, near_reverse_split,
		       rs_exec_date, rs_days_after, exchange, pm_source, pm_venue
		FROM discovery.hits
		WHERE event_date = $1
		ORDER BY symbol
	`
	rows, err := r.pool.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("hits for %s: %w", date, err)
	}
	defer rows.Close()

	var hits []*Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.HitID, &h.Symbol, &h.EventDate, &h.Volume, &h.PushPct,
			&h.NearReverseSplit, &h.RSExecDate, &h.RSDaysAfter, &h.Exchange,
			&h.PMSource, &h.PMVenue); err != nil {
			return nil, err
		}
		hits = append(hits, &h)
	}
	return hits, rows.Err()
}

// DiscoveredSymbols returns the set of symbols with at least one hit on
// the date.
func (r *HitRepository) DiscoveredSymbols(ctx context.Context, date string) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT symbol FROM discovery.hits WHERE event_date = $1`, date)
	if err != nil {
		return nil, fmt.Errorf("discovered symbols for %s: %w", date, err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, err
		}
		out[symbol] = true
	}
	return out, rows.Err()
}
