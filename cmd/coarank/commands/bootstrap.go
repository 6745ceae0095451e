package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/wonny/coarank/backend/internal/certificate"
	"github.com/wonny/coarank/backend/internal/external/janoshik"
	"github.com/wonny/coarank/backend/internal/extractor"
	"github.com/wonny/coarank/backend/internal/imagestore"
	"github.com/wonny/coarank/backend/internal/manager"
	"github.com/wonny/coarank/backend/internal/provider"
	"github.com/wonny/coarank/backend/internal/ranking"
	"github.com/wonny/coarank/backend/internal/scoring"
	"github.com/wonny/coarank/backend/pkg/config"
	"github.com/wonny/coarank/backend/pkg/database"
	"github.com/wonny/coarank/backend/pkg/httputil"
	"github.com/wonny/coarank/backend/pkg/logger"
	"github.com/wonny/coarank/backend/pkg/redis"
)

// app holds everything a command needs, wired from configuration.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	redis    *redis.Client
	manager  *manager.Manager
	provider provider.Provider
	registry *prometheus.Registry
}

// bootstrap loads configuration and wires the full dependency graph. Logs
// go to logOut so command output on stdout stays clean.
func bootstrap(ctx context.Context, logOut io.Writer) (*app, error) {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}

	// 2. Initialize logger
	log := logger.NewWithWriter(cfg, logOut)

	// 3. Connect to database and migrate
	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a := &app{cfg: cfg, log: log, db: db}

	certRepo := certificate.NewRepository(db)
	rankRepo := ranking.NewRepository(db)
	if err := certRepo.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate certificates: %w", err)
	}
	if err := rankRepo.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate rankings: %w", err)
	}
	log.WithField("driver", string(db.Dialect)).Debug("Database ready")

	// 4. Redis (optional)
	rc, err := redis.New(cfg)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, continuing without cache")
		rc = redis.Disabled()
	}
	a.redis = rc

	// 5. Image store
	images, err := imagestore.Open(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open image store: %w", err)
	}

	// Shared rate limits across processes, only with Redis
	var shared *redis.RateLimiter
	if rc.Enabled() {
		shared = redis.NewRateLimiter(rc, "coarank")
	}

	// 6. HTTP clients and scraper
	scraper, err := janoshik.NewClient(scraperHTTPClient(cfg, log, shared), cfg.Scraper, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create scraper: %w", err)
	}

	// 7. Vision provider behind local and shared rate limits
	p, err := provider.New(cfg.Provider, httputil.NewWithTimeout(cfg, log, cfg.Provider.Timeout), log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create provider: %w", err)
	}
	a.provider = provider.WithRateLimit(p, cfg.Provider.RPM, shared)

	// 8. Scorer
	scorer, err := scoring.NewScorer(scoring.DefaultWeights(), log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create scorer: %w", err)
	}

	// 9. Metrics
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 10. Manager
	a.manager, err = manager.New(manager.Deps{
		Scraper:   scraper,
		Images:    images,
		Extractor: extractor.New(a.provider, log),
		Certs:     certRepo,
		Rankings:  rankRepo,
		Scorer:    scorer,
		Cache:     redis.NewCache(rc, "coarank"),
		Metrics:   manager.NewMetrics(a.registry),
		Logger:    log,
	}, manager.Options{
		Concurrency: cfg.Provider.Concurrency,
		KeepLast:    cfg.Ranking.KeepLast,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create manager: %w", err)
	}

	return a, nil
}

// bootstrapQuiet wires the app with logs on stderr.
func bootstrapQuiet(ctx context.Context) (*app, error) {
	return bootstrap(ctx, os.Stderr)
}

// Close releases the database and redis connections.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close redis")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close database")
		}
	}
}

// scraperHTTPClient builds the lab site client. With a shared limiter every
// listing and image request also draws from the cross-process scraper budget.
func scraperHTTPClient(cfg *config.Config, log *logger.Logger, shared *redis.RateLimiter) *httputil.Client {
	client := httputil.NewWithTimeout(cfg, log, cfg.Scraper.Timeout)
	if shared != nil {
		client = client.WithRateLimiter(shared, redis.ScraperRateLimit)
	}
	return client
}
