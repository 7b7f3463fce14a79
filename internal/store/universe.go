package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/gapscan/internal/polygon"
)

// UniverseRepository pins the tradable roster per date so scans and
// audits share a deterministic symbol set.
type UniverseRepository struct {
	pool *pgxpool.Pool
}

func NewUniverseRepository(pool *pgxpool.Pool) *UniverseRepository {
	return &UniverseRepository{pool: pool}
}

// PinUniverse stores the roster for a date. A date that is already
// pinned is left untouched unless force is set, so re-running a scan
// audits against the same universe it discovered against.
func (r *UniverseRepository) PinUniverse(ctx context.Context, date string, roster []polygon.RosterEntry, force bool) (int, error) {
	if !force {
		var existing int
		err := r.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM discovery.universe WHERE universe_date = $1`, date).Scan(&existing)
		if err != nil {
			return 0, fmt.Errorf("count universe %s: %w", date, err)
		}
		if existing > 0 {
			return existing, nil
		}
	} else {
		if _, err := r.pool.Exec(ctx,
			`DELETE FROM discovery.universe WHERE universe_date = $1`, date); err != nil {
			return 0, fmt.Errorf("clear universe %s: %w", date, err)
		}
	}

	query := `
		INSERT INTO discovery.universe
			(universe_date, symbol, market, security_type, active, primary_exchange, delisted_utc)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		ON CONFLICT (universe_date, symbol) DO NOTHING
	`
	count := 0
	for _, e := range roster {
		if _, err := r.pool.Exec(ctx, query,
			date, e.Symbol, e.Market, e.Type, e.Active, e.PrimaryExchange, e.DelistedUTC); err != nil {
			return count, fmt.Errorf("pin %s: %w", e.Symbol, err)
		}
		count++
	}
	return count, nil
}

// GetUniverse returns the active pinned symbols for a date.
func (r *UniverseRepository) GetUniverse(ctx context.Context, date string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT symbol FROM discovery.universe WHERE universe_date = $1 AND active ORDER BY symbol`, date)
	if err != nil {
		return nil, fmt.Errorf("universe for %s: %w", date, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, err
		}
		out = append(out, symbol)
	}
	return out, rows.Err()
}

// Stats returns the total pinned-symbol count for a date.
func (r *UniverseRepository) Stats(ctx context.Context, date string) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM discovery.universe WHERE universe_date = $1`, date).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("universe stats %s: %w", date, err)
	}
	return total, nil
}

// SymbolMeta is the durable exchange/type cache row, one per symbol.
type SymbolMeta struct {
	Symbol          string
	PrimaryExchange string
	Exchange        string
	SecurityType    string
}

// UpsertSymbolMeta records resolved exchange/type metadata so later
// scans and audits skip the reference API.
func (r *UniverseRepository) UpsertSymbolMeta(ctx context.Context, m *SymbolMeta) error {
	query := `
		INSERT INTO discovery.symbol_meta (symbol, primary_exchange, exchange, security_type, as_of)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			primary_exchange = EXCLUDED.primary_exchange,
			exchange = EXCLUDED.exchange,
			security_type = EXCLUDED.security_type,
			as_of = NOW()
	`
	if _, err := r.pool.Exec(ctx, query,
		m.Symbol, m.PrimaryExchange, m.Exchange, m.SecurityType); err != nil {
		return fmt.Errorf("upsert symbol meta %s: %w", m.Symbol, err)
	}
	return nil
}

// GetSymbolMeta returns the cached metadata for a symbol, or nil when
// the symbol has never been resolved.
func (r *UniverseRepository) GetSymbolMeta(ctx context.Context, symbol string) (*SymbolMeta, error) {
	query := `
		SELECT symbol, COALESCE(primary_exchange, ''), COALESCE(exchange, ''), COALESCE(security_type, '')
		FROM discovery.symbol_meta
		WHERE symbol = $1
	`
	var m SymbolMeta
	err := r.pool.QueryRow(ctx, query, symbol).Scan(
		&m.Symbol, &m.PrimaryExchange, &m.Exchange, &m.SecurityType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("symbol meta %s: %w", symbol, err)
	}
	return &m, nil
}
