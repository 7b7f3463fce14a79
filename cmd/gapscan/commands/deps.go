package commands

import (
	"context"
	"fmt"

	"github.com/wonny/gapscan/internal/polygon"
	"github.com/wonny/gapscan/internal/scan"
	"github.com/wonny/gapscan/internal/store"
	"github.com/wonny/gapscan/internal/theta"
	"github.com/wonny/gapscan/pkg/config"
	"github.com/wonny/gapscan/pkg/database"
	"github.com/wonny/gapscan/pkg/logger"
	"github.com/wonny/gapscan/pkg/redis"
)

// appDeps bundles everything a command needs, plus the handles it must
// close on exit.
type appDeps struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	redis    *redis.Client
	provider *theta.Client
	sweep    *polygon.Client

	hits         *store.HitRepository
	bars         *store.BarRepository
	universe     *store.UniverseRepository
	completeness *store.CompletenessRepository

	scanner *scan.Scanner
}

func (d *appDeps) Close() {
	if d.redis != nil {
		d.redis.Close()
	}
	if d.db != nil {
		d.db.Close()
	}
}

// initDeps wires the full dependency graph. The terminal probe runs
// here; an unreachable terminal is a warning, not a failure, because
// the cheap rules and the post-scan audit still work without it.
func initDeps(ctx context.Context) (*appDeps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	log := logger.New(cfg)

	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	redisClient, err := redis.New(cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	cache := redis.NewCache(redisClient, "gapscan")
	apiLimiter := redis.NewRateLimiter(redisClient, "gapscan")

	sweep := polygon.New(cfg, log, cache, apiLimiter)
	provider := theta.New(cfg.Theta, log)
	if err := provider.Detect(ctx); err != nil {
		log.WithError(err).Warn("Terminal unreachable, premarket checks will be skipped")
	}

	d := &appDeps{
		cfg:          cfg,
		log:          log,
		db:           db,
		redis:        redisClient,
		provider:     provider,
		sweep:        sweep,
		hits:         store.NewHitRepository(db.Pool),
		bars:         store.NewBarRepository(db.Pool),
		universe:     store.NewUniverseRepository(db.Pool),
		completeness: store.NewCompletenessRepository(db.Pool),
	}
	d.scanner = scan.New(cfg, log, scan.Deps{
		Sweep:        sweep,
		Provider:     provider,
		Hits:         d.hits,
		Bars:         d.bars,
		Universe:     d.universe,
		Completeness: d.completeness,
	})
	return d, nil
}
