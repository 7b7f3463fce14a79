package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/gapscan/internal/polygon"
	"github.com/wonny/gapscan/internal/rules"
)

// BarRepository persists the daily sweep and serves the lookbacks built
// on it.
type BarRepository struct {
	pool *pgxpool.Pool
}

func NewBarRepository(pool *pgxpool.Pool) *BarRepository {
	return &BarRepository{pool: pool}
}

// SaveDailyBars upserts one date's sweep. Bars are immutable per
// (symbol, date); a re-run simply overwrites with identical values.
func (r *BarRepository) SaveDailyBars(ctx context.Context, date string, bars []polygon.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}
	query := `
		INSERT INTO discovery.daily_bars
			(symbol, bar_date, open, high, low, close, volume, vwap)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, bar_date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			vwap = EXCLUDED.vwap
	`
	for _, b := range bars {
		if _, err := r.pool.Exec(ctx, query,
			b.Symbol, date, b.Open, b.High, b.Low, b.Close, b.Volume, b.VWAP); err != nil {
			return fmt.Errorf("save bar %s %s: %w", b.Symbol, date, err)
		}
	}
	return nil
}

// DailyVolumes returns {symbol: volume} for one bar date.
func (r *BarRepository) DailyVolumes(ctx context.Context, date string) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT symbol, volume FROM discovery.daily_bars WHERE bar_date = $1`, date)
	if err != nil {
		return nil, fmt.Errorf("query day volumes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var sym string
		var vol int64
		if err := rows.Scan(&sym, &vol); err != nil {
			return nil, fmt.Errorf("scan day volume: %w", err)
		}
		out[sym] = vol
	}
	return out, rows.Err()
}

// PrevCloseMap returns {symbol: close} for one bar date.
func (r *BarRepository) PrevCloseMap(ctx context.Context, date string) (map[string]float64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT symbol, close FROM discovery.daily_bars WHERE bar_date = $1 AND close > 0`, date)
	if err != nil {
		return nil, fmt.Errorf("prev close map %s: %w", date, err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var symbol string
		var close float64
		if err := rows.Scan(&symbol, &close); err != nil {
			return nil, err
		}
		out[symbol] = close
	}
	return out, rows.Err()
}

// Last7Range returns the most recent stored (low, high) pairs for a
// symbol up to and including endDate, newest first, capped at 7. The
// caller decides whether 7 valid pairs exist.
func (r *BarRepository) Last7Range(ctx context.Context, symbol, endDate string) ([]rules.LowHigh, error) {
	query := `
		SELECT low, high
		FROM discovery.daily_bars
		WHERE symbol = $1 AND bar_date <= $2
		ORDER BY bar_date DESC
		LIMIT 7
	`
	rows, err := r.pool.Query(ctx, query, symbol, endDate)
	if err != nil {
		return nil, fmt.Errorf("last 7 range %s: %w", symbol, err)
	}
	defer rows.Close()

	var pairs []rules.LowHigh
	for rows.Next() {
		var p rules.LowHigh
		if err := rows.Scan(&p.Low, &p.High); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}
