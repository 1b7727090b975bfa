package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/techfeed/internal/cache"
	"github.com/hitoshi/techfeed/internal/model"
	"github.com/hitoshi/techfeed/internal/repository"
)

// NewsCachePrefix は記事読み取り結果のキャッシュキーのプレフィックス。
// 取り込み完了時にこのプレフィックスのキャッシュをまとめて破棄する。
const NewsCachePrefix = "news:"

const (
	defaultTrendingLimit = 20
	defaultTrendingHours = 24
	maxTrendingHours     = 24 * 7
	defaultLogLimit      = 50
)

// IngestionLogReader は取り込み実行記録の読み取りインターフェース。
type IngestionLogReader interface {
	ListRecent(ctx context.Context, limit int) ([]model.IngestionLog, error)
}

// NewsHandler は記事読み取りAPIのHTTPハンドラ。
type NewsHandler struct {
	articles repository.ArticleReader
	logs     IngestionLogReader
	cache    *cache.Cache
	cacheTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewNewsHandler はNewsHandlerを生成する。cacheがnilの場合は毎回リポジトリを参照する。
func NewNewsHandler(articles repository.ArticleReader, logs IngestionLogReader, c *cache.Cache, cacheTTL time.Duration, logger *slog.Logger) *NewsHandler {
	return &NewsHandler{
		articles: articles,
		logs:     logs,
		cache:    c,
		cacheTTL: cacheTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// cached はキャッシュがあればGetOrComputeで、なければcomputeを直接呼んで結果を返す。
func cached[T any](c *cache.Cache, key string, ttl time.Duration, compute func() (T, error)) (T, error) {
	if c == nil {
		return compute()
	}
	return cache.GetOrCompute(c, key, ttl, compute)
}

// ListPosts は GET /api/news/posts を処理する。
func (h *NewsHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseArticleFilter(r.URL.Query())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	h.writeArticleList(w, r, filter)
}

// ListBySource は GET /api/news/by-source/{source} を処理する。
func (h *NewsHandler) ListBySource(w http.ResponseWriter, r *http.Request) {
	filter, err := parseArticleFilter(r.URL.Query())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	filter.Source = chi.URLParam(r, "source")
	if filter.Source == "" {
		handleServiceError(w, h.logger, model.NewInvalidParameterError("source", "ソース名を指定してください"))
		return
	}
	h.writeArticleList(w, r, filter)
}

func (h *NewsHandler) writeArticleList(w http.ResponseWriter, r *http.Request, filter model.ArticleFilter) {
	key := cache.Key(NewsCachePrefix+"posts", filterCacheParams(filter))
	resp, err := cached(h.cache, key, h.cacheTTL, func() (articleListResponse, error) {
		page, err := h.articles.List(r.Context(), filter)
		if err != nil {
			return articleListResponse{}, err
		}
		return toArticleListResponse(page), nil
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPost は GET /api/news/posts/{slug} を処理する。
func (h *NewsHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	key := cache.Key(NewsCachePrefix+"post", map[string]any{"slug": slug})
	resp, err := cached(h.cache, key, h.cacheTTL, func() (articleResponse, error) {
		article, err := h.articles.FindBySlug(r.Context(), slug)
		if err != nil {
			return articleResponse{}, err
		}
		if article == nil {
			return articleResponse{}, model.NewArticleNotFoundError(slug)
		}
		return toArticleResponse(*article, true), nil
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Trending は GET /api/news/trending を処理する。
func (h *NewsHandler) Trending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q, "limit", defaultTrendingLimit, 1, maxPageSize)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	hours, err := intParam(q, "hours", defaultTrendingHours, 1, maxTrendingHours)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	key := cache.Key(NewsCachePrefix+"trending", map[string]any{"limit": limit, "hours": hours})
	resp, err := cached(h.cache, key, h.cacheTTL, func() ([]articleResponse, error) {
		since := h.now().Add(-time.Duration(hours) * time.Hour)
		articles, err := h.articles.Trending(r.Context(), since, limit)
		if err != nil {
			return nil, err
		}
		return toArticleResponses(articles), nil
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stats は GET /api/news/stats を処理する。
func (h *NewsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp, err := cached(h.cache, NewsCachePrefix+"stats", h.cacheTTL, func() (statsResponse, error) {
		now := h.now()
		stats, err := h.articles.Stats(r.Context(), now)
		if err != nil {
			return statsResponse{}, err
		}
		return toStatsResponse(stats, now.UTC()), nil
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// IngestionLogs は GET /api/news/ingestion-logs を処理する。実行記録はキャッシュしない。
func (h *NewsHandler) IngestionLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query(), "limit", defaultLogLimit, 1, maxPageSize)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	logs, err := h.logs.ListRecent(r.Context(), limit)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	resp := make([]ingestionLogResponse, len(logs))
	for i, l := range logs {
		resp[i] = toIngestionLogResponse(l)
	}
	writeJSON(w, http.StatusOK, resp)
}
