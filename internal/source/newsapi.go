package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/techfeed/internal/model"
	"github.com/hitoshi/techfeed/internal/security"
	"github.com/hitoshi/techfeed/internal/tagging"
)

// removedMarker はNewsAPIが削除済み記事のフィールドに入れる値。
const removedMarker = "[Removed]"

// newsAPIQuery はeverythingエンドポイントの検索語。
const newsAPIQuery = "technology OR programming OR software OR AI OR machine learning"

// newsAPILookback はeverythingエンドポイントで遡る期間。
const newsAPILookback = 7 * 24 * time.Hour

// NewsAPIConfig はNewsAPIアダプタの設定を表す。
type NewsAPIConfig struct {
	BaseURL string
	APIKey  string
	Domains []string
}

// NewsAPISource は検索とトップヘッドラインの2つのエンドポイントから記事を取得する。
type NewsAPISource struct {
	cfg       NewsAPIConfig
	requester *Requester
	cleaner   ContentCleaner
	logger    *slog.Logger
	now       func() time.Time
}

// NewNewsAPISource はNewsAPISourceを生成する。
func NewNewsAPISource(cfg NewsAPIConfig, requester *Requester, cleaner ContentCleaner, logger *slog.Logger) *NewsAPISource {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &NewsAPISource{
		cfg:       cfg,
		requester: requester,
		cleaner:   cleaner,
		logger:    logger,
		now:       time.Now,
	}
}

var _ Source = (*NewsAPISource)(nil)

// Name はNewsAPIを返す。
func (s *NewsAPISource) Name() string { return "NewsAPI" }

// Phase はnewsapiを返す。
func (s *NewsAPISource) Phase() string { return model.PhaseNewsAPI }

type newsAPIResponse struct {
	Status   string           `json:"status"`
	Code     string           `json:"code"`
	Message  string           `json:"message"`
	Articles []newsAPIArticle `json:"articles"`
}

type newsAPIArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`
}

// Fetch はeverythingとtop-headlinesを順に呼び出し、結果を連結して返す。
// 片方のみ失敗した場合は成功した側の記事を返す。
func (s *NewsAPISource) Fetch(ctx context.Context, limit int) ([]model.Article, error) {
	if s.cfg.APIKey == "" {
		return nil, errors.New("newsapi key is not configured")
	}
	if limit <= 0 {
		return nil, nil
	}

	now := s.now()
	var articles []model.Article
	var errs []error

	everything, err := s.query(ctx, "everything", s.everythingParams(limit, now))
	if err != nil {
		errs = append(errs, fmt.Errorf("everything: %w", err))
	}
	articles = append(articles, s.convert(everything, now)...)

	if size := min(limit/2, 50); size > 0 {
		params := url.Values{}
		params.Set("category", "technology")
		params.Set("language", "en")
		params.Set("pageSize", strconv.Itoa(size))
		headlines, err := s.query(ctx, "top-headlines", params)
		if err != nil {
			errs = append(errs, fmt.Errorf("top-headlines: %w", err))
		}
		articles = append(articles, s.convert(headlines, now)...)
	}

	if len(articles) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	for _, e := range errs {
		s.logger.Warn("NewsAPIの一部リクエストが失敗しました",
			slog.String("source", s.Name()),
			slog.String("error", e.Error()),
		)
	}
	return articles, nil
}

func (s *NewsAPISource) everythingParams(limit int, now time.Time) url.Values {
	params := url.Values{}
	params.Set("q", newsAPIQuery)
	if len(s.cfg.Domains) > 0 {
		params.Set("domains", strings.Join(s.cfg.Domains, ","))
	}
	params.Set("language", "en")
	params.Set("sortBy", "publishedAt")
	params.Set("pageSize", strconv.Itoa(min(limit, 100)))
	params.Set("from", now.Add(-newsAPILookback).UTC().Format("2006-01-02"))
	return params
}

func (s *NewsAPISource) query(ctx context.Context, endpoint string, params url.Values) ([]newsAPIArticle, error) {
	header := http.Header{}
	header.Set("X-Api-Key", s.cfg.APIKey)

	var resp newsAPIResponse
	if err := s.requester.GetJSON(ctx, s.cfg.BaseURL+"/"+endpoint+"?"+params.Encode(), header, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("%w: status=%q code=%q message=%q", ErrMalformed, resp.Status, resp.Code, resp.Message)
	}
	return resp.Articles, nil
}

// convert はNewsAPIの記事を候補に変換する。タイトルが削除済みの記事は除外する。
func (s *NewsAPISource) convert(items []newsAPIArticle, now time.Time) []model.Article {
	articles := make([]model.Article, 0, len(items))
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		if title == "" || title == removedMarker || strings.TrimSpace(item.URL) == "" {
			continue
		}

		description := item.Description
		if description == removedMarker {
			description = ""
		}
		content := item.Content
		if content == "" || content == removedMarker {
			content = description
		}

		sourceName := strings.TrimSpace(item.Source.Name)
		if sourceName == "" {
			sourceName = "Unknown"
		}

		excerpt := security.TruncateRunes(s.cleaner.PlainText(description), excerptMaxRunes)
		a := model.Article{
			Title:         title,
			Excerpt:       excerpt,
			ContentHTML:   s.cleaner.Sanitize(content),
			CoverImageURL: item.URLToImage,
			SourceName:    sourceName,
			SourceURL:     item.URL,
			CanonicalURL:  item.URL,
			Author:        strings.TrimSpace(item.Author),
			PublishedAt:   parseTime(item.PublishedAt),
			Tags:          tagging.Extract(title, description),
			IsFeatured:    IsTierOne(sourceName),
		}
		finalize(&a, now)
		articles = append(articles, a)
	}
	return articles
}
