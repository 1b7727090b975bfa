package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/techfeed/internal/model"
)

// --- レスポンス型 ---

// articleResponse は記事のAPIレスポンス。
type articleResponse struct {
	ID            string    `json:"id"`
	Slug          string    `json:"slug"`
	Title         string    `json:"title"`
	Excerpt       string    `json:"excerpt"`
	ContentHTML   string    `json:"content_html,omitempty"`
	CoverImageURL string    `json:"cover_image_url,omitempty"`
	SourceName    string    `json:"source_name"`
	SourceURL     string    `json:"source_url,omitempty"`
	Author        string    `json:"author,omitempty"`
	PublishedAt   time.Time `json:"published_at"`
	Tags          []string  `json:"tags"`
	CanonicalURL  string    `json:"canonical_url"`
	OGTitle       string    `json:"og_title,omitempty"`
	OGDescription string    `json:"og_description,omitempty"`
	OGImage       string    `json:"og_image,omitempty"`
	IsFeatured    bool      `json:"is_featured"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// articleListResponse は記事一覧のAPIレスポンス。
type articleListResponse struct {
	Posts      []articleResponse `json:"posts"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
	HasNext    bool              `json:"has_next"`
	HasPrev    bool              `json:"has_prev"`
}

// statsResponse は統計情報のAPIレスポンス。
type statsResponse struct {
	TotalArticles    int            `json:"total_articles"`
	RecentArticles   int            `json:"recent_articles_24h"`
	FeaturedArticles int            `json:"featured_articles"`
	SourcesBreakdown map[string]int `json:"sources_breakdown"`
	TopCategories    map[string]int `json:"top_categories"`
	ActiveSources    int            `json:"active_sources"`
	LastUpdated      time.Time      `json:"last_updated"`
}

// feedSourceResponse はRSSフィードソースのAPIレスポンス。
type feedSourceResponse struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Category string `json:"category,omitempty"`
	Type     string `json:"type"`
	Custom   bool   `json:"custom"`
}

// apiSourceResponse はAPI型ソースのAPIレスポンス。
type apiSourceResponse struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
	Detail  string `json:"detail,omitempty"`
}

// newsSourceResponse は登録済みカスタムソースのAPIレスポンス。
type newsSourceResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	FeedURL   string    `json:"feed_url"`
	SiteURL   string    `json:"site_url,omitempty"`
	Category  string    `json:"category"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// sourcesResponse はソース一覧のAPIレスポンス。
type sourcesResponse struct {
	RSSFeeds        []feedSourceResponse `json:"rss_feeds"`
	APISources      []apiSourceResponse  `json:"api_sources"`
	CustomSources   []newsSourceResponse `json:"custom_sources"`
	TotalSources    int                  `json:"total_sources"`
	UpdateFrequency string               `json:"update_frequency,omitempty"`
}

// summaryResponse は取り込み実行結果のAPIレスポンス。
type summaryResponse struct {
	SourcesProcessed   int            `json:"sources_processed"`
	PhasesRun          int            `json:"phases_run"`
	TotalArticlesFound int            `json:"total_articles_found"`
	UniqueArticles     int            `json:"unique_articles"`
	Created            int            `json:"created"`
	Updated            int            `json:"updated"`
	Skipped            int            `json:"skipped"`
	PhaseBreakdown     map[string]int `json:"phase_breakdown"`
	SourceBreakdown    map[string]int `json:"source_breakdown"`
	FailedSources      []string       `json:"failed_sources"`
}

// ingestionLogResponse は取り込み実行記録のAPIレスポンス。
type ingestionLogResponse struct {
	ID                string     `json:"id"`
	SourceName        string     `json:"source_name"`
	Status            string     `json:"status"`
	ArticlesFound     int        `json:"articles_found"`
	ArticlesProcessed int        `json:"articles_processed"`
	ArticlesCreated   int        `json:"articles_created"`
	ArticlesUpdated   int        `json:"articles_updated"`
	ArticlesSkipped   int        `json:"articles_skipped"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	DurationSeconds   float64    `json:"duration_seconds"`
}

// ingestResponse は取り込み実行APIのレスポンス。
type ingestResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Data    summaryResponse       `json:"data"`
	Log     *ingestionLogResponse `json:"log,omitempty"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// --- 変換 ---

func toArticleResponse(a model.Article, withContent bool) articleResponse {
	resp := articleResponse{
		ID:            a.ID,
		Slug:          a.Slug,
		Title:         a.Title,
		Excerpt:       a.Excerpt,
		CoverImageURL: a.CoverImageURL,
		SourceName:    a.SourceName,
		SourceURL:     a.SourceURL,
		Author:        a.Author,
		PublishedAt:   a.PublishedAt,
		Tags:          a.Tags,
		CanonicalURL:  a.CanonicalURL,
		OGTitle:       a.OGTitle,
		OGDescription: a.OGDescription,
		OGImage:       a.OGImage,
		IsFeatured:    a.IsFeatured,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	if withContent {
		resp.ContentHTML = a.ContentHTML
	}
	return resp
}

func toArticleResponses(articles []model.Article) []articleResponse {
	out := make([]articleResponse, len(articles))
	for i, a := range articles {
		out[i] = toArticleResponse(a, false)
	}
	return out
}

func toArticleListResponse(page *model.ArticlePage) articleListResponse {
	return articleListResponse{
		Posts:      toArticleResponses(page.Articles),
		Total:      page.Total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: page.TotalPages,
		HasNext:    page.HasNext(),
		HasPrev:    page.HasPrev(),
	}
}

func toStatsResponse(s *model.ArticleStats, now time.Time) statsResponse {
	resp := statsResponse{
		TotalArticles:    s.TotalArticles,
		RecentArticles:   s.RecentArticles,
		FeaturedArticles: s.FeaturedArticles,
		SourcesBreakdown: make(map[string]int, len(s.BySource)),
		TopCategories:    make(map[string]int, len(s.TopTags)),
		ActiveSources:    len(s.BySource),
		LastUpdated:      now,
	}
	for _, nc := range s.BySource {
		resp.SourcesBreakdown[nc.Name] = nc.Count
	}
	for _, nc := range s.TopTags {
		resp.TopCategories[nc.Name] = nc.Count
	}
	return resp
}

func toNewsSourceResponse(s model.NewsSource) newsSourceResponse {
	return newsSourceResponse{
		ID:        s.ID,
		Name:      s.Name,
		FeedURL:   s.FeedURL,
		SiteURL:   s.SiteURL,
		Category:  s.Category,
		IsActive:  s.IsActive,
		CreatedAt: s.CreatedAt,
	}
}

func toSummaryResponse(s model.Summary) summaryResponse {
	resp := summaryResponse{
		SourcesProcessed:   s.SourcesProcessed,
		PhasesRun:          s.PhasesRun,
		TotalArticlesFound: s.TotalArticlesFound,
		UniqueArticles:     s.UniqueArticles,
		Created:            s.Created,
		Updated:            s.Updated,
		Skipped:            s.Skipped,
		PhaseBreakdown:     s.PhaseBreakdown,
		SourceBreakdown:    s.SourceBreakdown,
		FailedSources:      s.FailedSources,
	}
	if resp.PhaseBreakdown == nil {
		resp.PhaseBreakdown = map[string]int{}
	}
	if resp.SourceBreakdown == nil {
		resp.SourceBreakdown = map[string]int{}
	}
	if resp.FailedSources == nil {
		resp.FailedSources = []string{}
	}
	return resp
}

func toIngestionLogResponse(l model.IngestionLog) ingestionLogResponse {
	return ingestionLogResponse{
		ID:                l.ID,
		SourceName:        l.SourceName,
		Status:            string(l.Status),
		ArticlesFound:     l.ArticlesFound,
		ArticlesProcessed: l.ArticlesProcessed,
		ArticlesCreated:   l.ArticlesCreated,
		ArticlesUpdated:   l.ArticlesUpdated,
		ArticlesSkipped:   l.ArticlesSkipped,
		ErrorMessage:      l.ErrorMessage,
		StartedAt:         l.StartedAt,
		CompletedAt:       l.CompletedAt,
		DurationSeconds:   l.DurationSeconds,
	}
}

// --- 書き込みヘルパー ---

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSON(w, statusCode, apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// invalidRequestBodyError はリクエストボディの解析失敗を表す。
func invalidRequestBodyError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	logger.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeFeedNotDetected, model.ErrCodeParseFailed:
		return http.StatusUnprocessableEntity
	case model.ErrCodeInvalidURL, model.ErrCodeInvalidParameter, "INVALID_REQUEST":
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked, model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	case model.ErrCodeDuplicateSource:
		return http.StatusConflict
	case model.ErrCodeArticleNotFound:
		return http.StatusNotFound
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
