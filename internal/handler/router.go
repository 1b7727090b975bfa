// Package handler はHTTP APIのハンドラとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/techfeed/internal/cache"
	"github.com/hitoshi/techfeed/internal/middleware"
	"github.com/hitoshi/techfeed/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	AdminJWTSecret    string

	// 記事
	Articles      repository.ArticleReader
	IngestionLogs IngestionLogReader

	// ソース
	SourceService SourceServiceInterface
	Catalog       CatalogProvider

	// 取り込み
	IngestRunner      IngestRunner
	IngestMaxArticles int
	IngestInterval    time.Duration

	// 読み取りキャッシュ
	Cache    *cache.Cache
	CacheTTL time.Duration

	// 運用
	Health  HealthChecker
	Metrics http.Handler

	Logger *slog.Logger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Logging → SecurityHeaders → CORS → RateLimit(General)
//
// 管理者ルートには AdminAuth → RateLimit(Admin) を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	newsHandler := NewNewsHandler(deps.Articles, deps.IngestionLogs, deps.Cache, deps.CacheTTL, logger)
	sourceHandler := NewSourceHandler(deps.SourceService, deps.Catalog, deps.Cache, deps.CacheTTL, deps.IngestInterval, logger)
	ingestHandler := NewIngestHandler(deps.IngestRunner, deps.IngestMaxArticles, logger)

	// --- 運用エンドポイント（レート制限の対象外） ---
	r.Get("/health", NewHealthHandler(deps.Health, logger))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/api/news", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		// 記事の読み取り
		r.Get("/posts", newsHandler.ListPosts)
		r.Get("/posts/{slug}", newsHandler.GetPost)
		r.Get("/by-source/{source}", newsHandler.ListBySource)
		r.Get("/trending", newsHandler.Trending)
		r.Get("/stats", newsHandler.Stats)
		r.Get("/ingestion-logs", newsHandler.IngestionLogs)
		r.Get("/sources", sourceHandler.ListSources)

		// --- 管理者ルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAdminAuthMiddleware(deps.AdminJWTSecret, logger))
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.AdminMiddleware())
			}

			r.Post("/ingest", ingestHandler.Ingest)
			r.Post("/sources", sourceHandler.RegisterSource)
		})
	})

	return r
}

// NewOpsRouter はワーカーが公開する運用エンドポイント（/health と /metrics）のみを持つルーターを返す。
// コンテナのヘルスチェックはAPIサーバーと同じ /health を叩く。
func NewOpsRouter(health HealthChecker, metrics http.Handler, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Get("/health", NewHealthHandler(health, logger))
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	return r
}
