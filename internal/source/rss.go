package source

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/techfeed/internal/model"
	"github.com/hitoshi/techfeed/internal/security"
	"github.com/hitoshi/techfeed/internal/tagging"
)

// maxEntriesPerFeed は1フィードから取り込むエントリ数の上限。
const maxEntriesPerFeed = 50

// maxEntryTags はエントリ自身のカテゴリから採用するタグ数の上限。
const maxEntryTags = 5

// FeedConfig はRSS/Atomフィード1件の設定を表す。
type FeedConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
}

// RSSSource はRSS/Atomフィード1件を取得するアダプタ。
type RSSSource struct {
	feed      FeedConfig
	requester *Requester
	guard     URLValidator
	cleaner   ContentCleaner
	logger    *slog.Logger
	now       func() time.Time
}

// NewRSSSource はRSSSourceを生成する。guardがnilの場合はURL検証を行わない。
func NewRSSSource(feed FeedConfig, requester *Requester, guard URLValidator, cleaner ContentCleaner, logger *slog.Logger) *RSSSource {
	return &RSSSource{
		feed:      feed,
		requester: requester,
		guard:     guard,
		cleaner:   cleaner,
		logger:    logger,
		now:       time.Now,
	}
}

var _ Source = (*RSSSource)(nil)

// Name はフィード名を返す。
func (s *RSSSource) Name() string { return s.feed.Name }

// Phase はrss_feedsを返す。
func (s *RSSSource) Phase() string { return model.PhaseRSSFeeds }

// Fetch はフィードを取得してパースする。
// HTTPエラー、タイムアウト、XMLの不正はエラーとして返す。
func (s *RSSSource) Fetch(ctx context.Context, limit int) ([]model.Article, error) {
	if s.guard != nil {
		if err := s.guard.ValidateURL(s.feed.URL); err != nil {
			return nil, fmt.Errorf("feed url rejected: %w", err)
		}
	}

	header := http.Header{}
	header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	body, err := s.requester.Get(ctx, s.feed.URL, header)
	if err != nil {
		return nil, err
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	n := min(maxEntriesPerFeed, limit)
	if n <= 0 {
		return nil, nil
	}
	items := parsed.Items
	if len(items) > n {
		items = items[:n]
	}

	articles := s.convertGofeedItems(items)
	s.logger.Debug("RSSフィードを取得しました",
		slog.String("source", s.feed.Name),
		slog.String("feed_url", s.feed.URL),
		slog.Int("entries", len(parsed.Items)),
		slog.Int("articles", len(articles)),
	)
	return articles, nil
}

// convertGofeedItems はgofeedのエントリを記事候補に変換する。
// リンクまたはタイトルが無いエントリはスキップする。
func (s *RSSSource) convertGofeedItems(items []*gofeed.Item) []model.Article {
	now := s.now()
	articles := make([]model.Article, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		link := strings.TrimSpace(item.Link)
		// LinkがなくGUIDがURL形式の場合はGUIDをLinkとして使用
		if link == "" && (strings.HasPrefix(item.GUID, "http://") || strings.HasPrefix(item.GUID, "https://")) {
			link = item.GUID
		}
		if link == "" {
			s.logger.Debug("リンクのないエントリをスキップしました",
				slog.String("source", s.feed.Name),
				slog.String("title", item.Title),
			)
			continue
		}

		title := strings.TrimSpace(s.cleaner.PlainText(item.Title))
		if title == "" {
			s.logger.Debug("タイトルのないエントリをスキップしました",
				slog.String("source", s.feed.Name),
				slog.String("link", link),
			)
			continue
		}

		rawBody := item.Content
		if rawBody == "" {
			rawBody = item.Description
		}
		rawSummary := item.Description
		if rawSummary == "" {
			rawSummary = item.Content
		}

		a := model.Article{
			Title:        title,
			CanonicalURL: link,
			SourceURL:    link,
			SourceName:   s.feed.Name,
			Excerpt:      security.TruncateRunes(s.cleaner.PlainText(rawSummary), excerptMaxRunes),
			ContentHTML:  s.cleaner.Sanitize(rawBody),
			Author:       entryAuthor(item, s.feed.Name),
			IsFeatured:   IsTierOne(s.feed.Name),
		}

		// 公開日時: published → updated → 現在時刻
		switch {
		case item.PublishedParsed != nil:
			a.PublishedAt = *item.PublishedParsed
		case item.UpdatedParsed != nil:
			a.PublishedAt = *item.UpdatedParsed
		}

		a.CoverImageURL = entryImage(item)

		tags := []string{s.feed.Category}
		cats := item.Categories
		if len(cats) > maxEntryTags {
			cats = cats[:maxEntryTags]
		}
		tags = append(tags, cats...)
		tags = append(tags, tagging.Extract(a.Title, a.Excerpt)...)
		a.Tags = tags

		finalize(&a, now)
		articles = append(articles, a)
	}

	return articles
}

func entryAuthor(item *gofeed.Item, fallback string) string {
	if item.Author != nil && strings.TrimSpace(item.Author.Name) != "" {
		return strings.TrimSpace(item.Author.Name)
	}
	for _, p := range item.Authors {
		if p != nil && strings.TrimSpace(p.Name) != "" {
			return strings.TrimSpace(p.Name)
		}
	}
	return fallback
}

// entryImage は media:content、media:thumbnail、画像エンクロージャ、item image の順に画像URLを探す。
func entryImage(item *gofeed.Item) string {
	if media, ok := item.Extensions["media"]; ok {
		for _, name := range []string{"content", "thumbnail"} {
			for _, ext := range media[name] {
				if u := ext.Attrs["url"]; u != "" {
					return u
				}
			}
		}
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	if item.Image != nil {
		return item.Image.URL
	}
	return ""
}
