package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/techfeed/internal/cache"
	"github.com/hitoshi/techfeed/internal/model"
	"github.com/hitoshi/techfeed/internal/source"
)

// sourcesCacheKey はソース一覧のキャッシュキー。
const sourcesCacheKey = NewsCachePrefix + "sources"

// maxSourceBodySize はソース登録リクエストボディの上限。
const maxSourceBodySize = 64 << 10

// SourceServiceInterface はカスタムソース管理のインターフェース。
type SourceServiceInterface interface {
	Register(ctx context.Context, name, inputURL, category string) (*model.NewsSource, error)
	List(ctx context.Context) ([]model.NewsSource, error)
}

// CatalogProvider は取り込み対象のソース一覧を提供する。
type CatalogProvider interface {
	Catalog(ctx context.Context) source.Catalog
	NewsAPIEnabled() bool
}

// SourceHandler はソース一覧とカスタムソース登録のHTTPハンドラ。
type SourceHandler struct {
	sources         SourceServiceInterface
	catalog         CatalogProvider
	cache           *cache.Cache
	cacheTTL        time.Duration
	updateFrequency time.Duration
	logger          *slog.Logger
}

// NewSourceHandler はSourceHandlerを生成する。updateFrequencyは定期取り込みの間隔で、レスポンスの表示にのみ使う。
func NewSourceHandler(
	sources SourceServiceInterface,
	catalog CatalogProvider,
	c *cache.Cache,
	cacheTTL time.Duration,
	updateFrequency time.Duration,
	logger *slog.Logger,
) *SourceHandler {
	return &SourceHandler{
		sources:         sources,
		catalog:         catalog,
		cache:           c,
		cacheTTL:        cacheTTL,
		updateFrequency: updateFrequency,
		logger:          logger,
	}
}

// registerSourceRequest はソース登録リクエストのボディ。
type registerSourceRequest struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Category string `json:"category"`
}

// ListSources は GET /api/news/sources を処理する。
func (h *SourceHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	resp, err := cached(h.cache, sourcesCacheKey, h.cacheTTL, func() (sourcesResponse, error) {
		return h.buildSources(r.Context())
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SourceHandler) buildSources(ctx context.Context) (sourcesResponse, error) {
	custom, err := h.sources.List(ctx)
	if err != nil {
		return sourcesResponse{}, err
	}
	customURLs := make(map[string]struct{}, len(custom))
	for _, s := range custom {
		customURLs[s.FeedURL] = struct{}{}
	}

	cat := h.catalog.Catalog(ctx)
	resp := sourcesResponse{
		RSSFeeds:      make([]feedSourceResponse, 0, len(cat.Feeds)),
		CustomSources: make([]newsSourceResponse, 0, len(custom)),
	}
	for _, f := range cat.Feeds {
		_, isCustom := customURLs[f.URL]
		resp.RSSFeeds = append(resp.RSSFeeds, feedSourceResponse{
			Name:     f.Name,
			URL:      f.URL,
			Category: f.Category,
			Type:     "rss",
			Custom:   isCustom,
		})
	}
	resp.APISources = []apiSourceResponse{
		{
			Name:    "NewsAPI",
			Type:    "api",
			Enabled: h.catalog.NewsAPIEnabled(),
			Detail:  fmt.Sprintf("%d domains", len(cat.NewsAPIDomains)),
		},
		{
			Name:    "Dev.to",
			Type:    "api",
			Enabled: true,
			Detail:  fmt.Sprintf("%d tags", len(cat.DevToTags)),
		},
		{
			Name:    "Hacker News",
			Type:    "api",
			Enabled: true,
			Detail:  "top stories",
		},
	}
	for _, s := range custom {
		resp.CustomSources = append(resp.CustomSources, toNewsSourceResponse(s))
	}
	resp.TotalSources = len(resp.RSSFeeds)
	for _, a := range resp.APISources {
		if a.Enabled {
			resp.TotalSources++
		}
	}
	if h.updateFrequency > 0 {
		resp.UpdateFrequency = h.updateFrequency.String()
	}
	return resp, nil
}

// RegisterSource は POST /api/news/sources を処理する。
// サイトURLまたはフィードURLからフィードを検出し、カスタムソースとして登録する。
func (h *SourceHandler) RegisterSource(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSourceBodySize)
	var req registerSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	if req.URL == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("URLを指定してください"))
		return
	}

	created, err := h.sources.Register(r.Context(), req.Name, req.URL, req.Category)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	if h.cache != nil {
		h.cache.Delete(sourcesCacheKey)
	}
	writeJSON(w, http.StatusCreated, toNewsSourceResponse(*created))
}
