package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/techfeed/internal/model"
	"github.com/hitoshi/techfeed/internal/repository"
	"github.com/hitoshi/techfeed/internal/source"
)

// --- モック定義 ---

// mockArticleReader はrepository.ArticleReaderのモック実装。
type mockArticleReader struct {
	listFn       func(ctx context.Context, filter model.ArticleFilter) (*model.ArticlePage, error)
	findBySlugFn func(ctx context.Context, slug string) (*model.Article, error)
	trendingFn   func(ctx context.Context, since time.Time, limit int) ([]model.Article, error)
	statsFn      func(ctx context.Context, now time.Time) (*model.ArticleStats, error)

	listCalls  int
	statsCalls int
}

var _ repository.ArticleReader = (*mockArticleReader)(nil)

func (m *mockArticleReader) List(ctx context.Context, filter model.ArticleFilter) (*model.ArticlePage, error) {
	m.listCalls++
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return &model.ArticlePage{Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (m *mockArticleReader) FindBySlug(ctx context.Context, slug string) (*model.Article, error) {
	if m.findBySlugFn != nil {
		return m.findBySlugFn(ctx, slug)
	}
	return nil, nil
}

func (m *mockArticleReader) Trending(ctx context.Context, since time.Time, limit int) ([]model.Article, error) {
	if m.trendingFn != nil {
		return m.trendingFn(ctx, since, limit)
	}
	return nil, nil
}

func (m *mockArticleReader) Stats(ctx context.Context, now time.Time) (*model.ArticleStats, error) {
	m.statsCalls++
	if m.statsFn != nil {
		return m.statsFn(ctx, now)
	}
	return &model.ArticleStats{}, nil
}

// mockLogReader はIngestionLogReaderのモック実装。
type mockLogReader struct {
	listRecentFn func(ctx context.Context, limit int) ([]model.IngestionLog, error)
}

func (m *mockLogReader) ListRecent(ctx context.Context, limit int) ([]model.IngestionLog, error) {
	if m.listRecentFn != nil {
		return m.listRecentFn(ctx, limit)
	}
	return nil, nil
}

// mockSourceService はSourceServiceInterfaceのモック実装。
type mockSourceService struct {
	registerFn func(ctx context.Context, name, inputURL, category string) (*model.NewsSource, error)
	listFn     func(ctx context.Context) ([]model.NewsSource, error)
	listCalls  int
}

func (m *mockSourceService) Register(ctx context.Context, name, inputURL, category string) (*model.NewsSource, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, name, inputURL, category)
	}
	return &model.NewsSource{Name: name, FeedURL: inputURL, Category: category, IsActive: true}, nil
}

func (m *mockSourceService) List(ctx context.Context) ([]model.NewsSource, error) {
	m.listCalls++
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

// mockCatalog はCatalogProviderのモック実装。
type mockCatalog struct {
	catalog        source.Catalog
	newsAPIEnabled bool
}

func (m *mockCatalog) Catalog(ctx context.Context) source.Catalog {
	return m.catalog
}

func (m *mockCatalog) NewsAPIEnabled() bool {
	return m.newsAPIEnabled
}

// mockIngestRunner はIngestRunnerのモック実装。
type mockIngestRunner struct {
	runFn func(ctx context.Context, maxArticles int) (model.Summary, *model.IngestionLog)
	calls int
}

func (m *mockIngestRunner) Run(ctx context.Context, maxArticles int) (model.Summary, *model.IngestionLog) {
	m.calls++
	if m.runFn != nil {
		return m.runFn(ctx, maxArticles)
	}
	return model.Summary{Success: true}, nil
}

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// --- ヘルパー ---

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// withChiURLParam はchiのURLパラメータをリクエストのコンテキストに設定する。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseAPIErrorResponse はレスポンスボディをapiErrorResponseとして解析する。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) apiErrorResponse {
	t.Helper()
	var resp apiErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v\n%s", err, w.Body.String())
	}
}
