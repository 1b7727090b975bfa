package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/techfeed/internal/cache"
	"github.com/hitoshi/techfeed/internal/config"
	"github.com/hitoshi/techfeed/internal/database"
	"github.com/hitoshi/techfeed/internal/feed"
	"github.com/hitoshi/techfeed/internal/handler"
	"github.com/hitoshi/techfeed/internal/ingest"
	"github.com/hitoshi/techfeed/internal/metrics"
	"github.com/hitoshi/techfeed/internal/middleware"
	"github.com/hitoshi/techfeed/internal/repository"
	"github.com/hitoshi/techfeed/internal/security"
	"github.com/hitoshi/techfeed/internal/source"
)

// components はserve/worker/ingestの各モードで共有する依存関係。
type components struct {
	articles  *repository.PostgresArticleRepo
	sources   *repository.PostgresSourceRepo
	logs      *repository.PostgresIngestionLogRepo
	guard     security.URLGuard
	registry  *source.Registry
	cache     *cache.Cache
	runner    *ingest.RunService
	promReg   *prometheus.Registry
	collector *metrics.Collector
}

// buildComponents はDB接続と設定から取り込みパイプラインと読み取り側の依存関係を組み立てる。
func buildComponents(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*components, error) {
	catalog := source.DefaultCatalog()
	if cfg.SourcesFile != "" {
		loaded, err := source.LoadCatalog(cfg.SourcesFile)
		if err != nil {
			return nil, err
		}
		catalog = loaded
		logger.Info("ソースカタログを読み込みました",
			slog.String("path", cfg.SourcesFile),
			slog.Int("feeds", len(catalog.Feeds)),
		)
	}

	c := &components{
		articles: repository.NewPostgresArticleRepo(db),
		sources:  repository.NewPostgresSourceRepo(db),
		logs:     repository.NewPostgresIngestionLogRepo(db),
		guard:    security.NewSSRFGuard(),
		cache:    cache.New(cfg.CacheTTL),
		promReg:  prometheus.NewRegistry(),
	}
	c.promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.collector = metrics.NewCollector(c.promReg)

	sanitizer := security.NewContentSanitizer()

	// RSSは任意のホストを取得するためSSRF対策済みクライアントを使う
	feedRequester := source.NewRequester(
		c.guard.NewSafeClient(cfg.FetchTimeout),
		source.NewHostThrottle(cfg.RSSRequestInterval),
		cfg.FetchMaxSize,
	)
	apiRequester := source.NewRequester(
		&http.Client{Timeout: cfg.FetchTimeout},
		source.NewHostThrottle(0),
		cfg.FetchMaxSize,
	)

	c.registry = source.NewRegistry(source.RegistryConfig{
		Catalog:           catalog,
		NewsAPIKey:        cfg.NewsAPIKey,
		NewsAPIBaseURL:    cfg.NewsAPIBaseURL,
		DevToBaseURL:      cfg.DevToBaseURL,
		HackerNewsBaseURL: cfg.HackerNewsBaseURL,
		HNItemInterval:    cfg.HNItemInterval,
	}, feedRequester, apiRequester, c.guard, sanitizer, c.sources, logger)

	aggregator := ingest.NewAggregator(
		c.registry,
		ingest.NewUpsertWriter(c.articles, logger),
		c.collector,
		logger,
		cfg.FetchMaxConcurrent,
		cfg.SourceTimeout,
	)
	c.runner = ingest.NewRunService(aggregator, c.logs, c.cache, handler.NewsCachePrefix, logger)

	return c, nil
}

// newRouter はAPIサーバーのハンドラを組み立てる。
func newRouter(cfg *config.Config, db *sql.DB, c *components, rl *middleware.RateLimiter, logger *slog.Logger) http.Handler {
	detector := feed.NewFeedDetector(c.guard, cfg.FetchTimeout, cfg.FetchMaxSize, logger)
	sourceService := feed.NewSourceService(detector, c.sources, logger)

	return handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		AdminJWTSecret:    cfg.AdminJWTSecret,
		Articles:          c.articles,
		IngestionLogs:     c.logs,
		SourceService:     sourceService,
		Catalog:           c.registry,
		IngestRunner:      c.runner,
		IngestMaxArticles: cfg.IngestMaxArticles,
		IngestInterval:    cfg.IngestInterval,
		Cache:             c.cache,
		CacheTTL:          cfg.CacheTTL,
		Health:            db,
		Metrics:           metrics.Handler(c.promReg),
		Logger:            logger,
	})
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
