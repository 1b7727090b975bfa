package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/techfeed/internal/model"
)

const (
	// hnPopularScore を超えるスコアの記事には popular タグを付ける。
	hnPopularScore = 100
	// hnFeaturedScore を超えるスコアの記事は注目記事とする。
	hnFeaturedScore = 200
)

// HackerNewsSource はHacker Newsのトップストーリーを取得する。
// ID一覧を取得した後、個々のアイテムを順番に取得する。
type HackerNewsSource struct {
	baseURL   string
	requester *Requester
	logger    *slog.Logger
	now       func() time.Time
}

// NewHackerNewsSource はHackerNewsSourceを生成する。
// アイテム取得間隔はRequesterのHostThrottleにbaseURLのホストで設定しておく。
func NewHackerNewsSource(baseURL string, requester *Requester, logger *slog.Logger) *HackerNewsSource {
	return &HackerNewsSource{
		baseURL:   strings.TrimRight(baseURL, "/"),
		requester: requester,
		logger:    logger,
		now:       time.Now,
	}
}

var _ Source = (*HackerNewsSource)(nil)

// Name はHacker Newsを返す。
func (s *HackerNewsSource) Name() string { return "Hacker News" }

// Phase はhacker_newsを返す。
func (s *HackerNewsSource) Phase() string { return model.PhaseHackerNews }

type hnItem struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	By          string `json:"by"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	Time        int64  `json:"time"`
	Deleted     bool   `json:"deleted"`
	Dead        bool   `json:"dead"`
}

// Fetch は先頭limit件のIDについてアイテムを取得し、URLを持つstoryのみを返す。
// 個々のアイテム取得失敗はスキップする。
func (s *HackerNewsSource) Fetch(ctx context.Context, limit int) ([]model.Article, error) {
	if limit <= 0 {
		return nil, nil
	}

	var ids []int64
	if err := s.requester.GetJSON(ctx, s.baseURL+"/topstories.json", nil, &ids); err != nil {
		return nil, err
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	now := s.now()
	articles := make([]model.Article, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			// 取得済みの分は返す
			s.logger.Warn("Hacker Newsの取得を中断しました",
				slog.Int("fetched", len(articles)),
				slog.String("error", err.Error()),
			)
			break
		}

		var item hnItem
		if err := s.requester.GetJSON(ctx, fmt.Sprintf("%s/item/%d.json", s.baseURL, id), nil, &item); err != nil {
			s.logger.Debug("Hacker Newsアイテムの取得に失敗しました",
				slog.Int64("item_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if item.Type != "story" || item.URL == "" || item.Deleted || item.Dead {
			continue
		}
		articles = append(articles, s.convert(item, now))
	}

	return articles, nil
}

func (s *HackerNewsSource) convert(item hnItem, now time.Time) model.Article {
	tags := []string{"hacker-news", "tech"}
	if item.Score > hnPopularScore {
		tags = append(tags, "popular")
	}

	var published time.Time
	if item.Time > 0 {
		published = time.Unix(item.Time, 0)
	}

	a := model.Article{
		Title:        item.Title,
		Excerpt:      fmt.Sprintf("Score: %d points, %d comments", item.Score, item.Descendants),
		SourceName:   hnSourceName(item.URL),
		SourceURL:    fmt.Sprintf("https://news.ycombinator.com/item?id=%d", item.ID),
		CanonicalURL: item.URL,
		Author:       item.By,
		PublishedAt:  published,
		Tags:         tags,
		IsFeatured:   item.Score > hnFeaturedScore,
	}
	finalize(&a, now)
	return a
}

// hnSourceName は "HN - <ホスト名>" 形式のソース名を返す。
func hnSourceName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "Hacker News"
	}
	return "HN - " + u.Hostname()
}
