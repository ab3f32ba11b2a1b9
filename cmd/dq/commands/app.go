package commands

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/internal/engine"
	"github.com/wonny/regtech-dq/internal/events"
	"github.com/wonny/regtech-dq/internal/quality"
	"github.com/wonny/regtech-dq/internal/rules"
	"github.com/wonny/regtech-dq/internal/storage"
	"github.com/wonny/regtech-dq/internal/threshold"
	"github.com/wonny/regtech-dq/pkg/config"
	"github.com/wonny/regtech-dq/pkg/database"
	"github.com/wonny/regtech-dq/pkg/logger"
	"github.com/wonny/regtech-dq/pkg/redis"
)

// cachePrefix namespaces every Redis cache key of this service
const cachePrefix = "dq"

// reportStore is what the quality service persists into
type reportStore interface {
	contracts.ReportRepository
	contracts.ViolationWriter
}

// app holds the wired dependencies shared by the commands
type app struct {
	cfg *config.Config
	log *logger.Logger

	db    *database.DB // nil without DATABASE_URL
	redis *redis.Client

	source     contracts.RuleSource
	cached     *rules.CachedSource // nil when rule caching is off
	catalog    *rules.Catalog
	thresholds *threshold.Provider

	registry *prometheus.Registry
	engine   *engine.Engine

	reports   reportStore
	details   *storage.LocalStore
	publisher *events.Publisher
	service   *quality.Service
}

// appOptions override configuration per command
type appOptions struct {
	rulesFile string // YAML catalog instead of RULES_SOURCE
}

// newApp wires every component from configuration.
// Without a database, reports and thresholds live in memory.
// ⭐ SSOT: 의존성 조립은 이 함수에서만
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// 1. 인프라
	if cfg.Database.Enabled() {
		db, err := database.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.db = db
	}
	rdb, err := redis.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = rdb
	cache := redis.NewCache(rdb, cachePrefix)

	// 2. 룰 소스
	source, err := a.ruleSource(opts)
	if err != nil {
		return nil, err
	}
	if cfg.Rules.CacheEnabled && rdb.Enabled() {
		a.cached = rules.NewCachedSource(source, cache, cfg.Rules.CacheTTL, log)
		source = a.cached
	}
	a.source = source
	a.catalog = rules.NewCatalog(source, nil, log)

	// 3. 임계값
	var store threshold.Store = threshold.NewMemoryStore()
	if a.db != nil {
		store = threshold.NewRepository(a.db.Pool)
	}
	a.thresholds = threshold.NewProvider(store, cache, log)

	// 4. 엔진 + 메트릭
	engineOpts, err := engine.OptionsFromConfig(cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("engine options: %w", err)
	}
	var metrics *engine.Metrics
	if cfg.MetricsEnabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = engine.NewMetrics(a.registry)
	}
	a.engine = engine.New(a.catalog, a.thresholds, engineOpts, log, metrics)

	// 5. 저장소, 이벤트, 서비스
	if a.db != nil {
		a.reports = quality.NewRepository(a.db.Pool)
	} else {
		a.reports = quality.NewMemoryRepository()
	}
	a.details, err = storage.New(cfg.Storage, cfg.Engine.MaxDetailedExposures)
	if err != nil {
		return nil, fmt.Errorf("detail storage: %w", err)
	}
	a.publisher, err = events.New(cfg.Events, rdb, log)
	if err != nil {
		return nil, fmt.Errorf("event publisher: %w", err)
	}
	a.service = quality.NewService(a.engine, a.reports, a.reports, a.details, a.publisher, log)

	ok = true
	return a, nil
}

func (a *app) ruleSource(opts appOptions) (contracts.RuleSource, error) {
	if opts.rulesFile != "" {
		return rules.NewFileSource(opts.rulesFile), nil
	}
	switch a.cfg.Rules.Source {
	case "", "default":
		return rules.DefaultSource(), nil
	case "yaml":
		return rules.NewFileSource(a.cfg.Rules.File), nil
	case "database":
		if a.db == nil {
			return nil, fmt.Errorf("RULES_SOURCE=database requires DATABASE_URL")
		}
		return rules.NewRepository(a.db.Pool), nil
	default:
		return nil, fmt.Errorf("unknown rule source %q", a.cfg.Rules.Source)
	}
}

// requireDB fails commands that only make sense with PostgreSQL
func (a *app) requireDB() error {
	if a.db == nil {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	return nil
}

// Close releases connections in reverse order of creation
func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close event publisher")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
