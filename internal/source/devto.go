package source

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/techfeed/internal/model"
	"github.com/hitoshi/techfeed/internal/security"
)

// devToTopDays はDev.toの人気記事を集計する日数。
const devToTopDays = 7

// DevToSource はDev.toの公開記事APIから記事を取得する。
type DevToSource struct {
	baseURL   string
	tags      []string
	requester *Requester
	cleaner   ContentCleaner
	logger    *slog.Logger
	now       func() time.Time
}

// NewDevToSource はDevToSourceを生成する。
func NewDevToSource(baseURL string, tags []string, requester *Requester, cleaner ContentCleaner, logger *slog.Logger) *DevToSource {
	return &DevToSource{
		baseURL:   strings.TrimRight(baseURL, "/"),
		tags:      tags,
		requester: requester,
		cleaner:   cleaner,
		logger:    logger,
		now:       time.Now,
	}
}

var _ Source = (*DevToSource)(nil)

// Name はDev.toを返す。
func (s *DevToSource) Name() string { return "Dev.to" }

// Phase はdev_toを返す。
func (s *DevToSource) Phase() string { return model.PhaseDevTo }

type devToArticle struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	URL         string       `json:"url"`
	CoverImage  string       `json:"cover_image"`
	SocialImage string       `json:"social_image"`
	PublishedAt string       `json:"published_at"`
	BodyHTML    string       `json:"body_html"`
	TagList     devToTagList `json:"tag_list"`
	User        struct {
		Name     string `json:"name"`
		Username string `json:"username"`
	} `json:"user"`
}

// devToTagList はtag_listを配列とカンマ区切り文字列の両方で受け付ける。
type devToTagList []string

func (l *devToTagList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		// 想定外の型はタグなしとして扱う
		*l = nil
		return nil
	}
	var out []string
	for _, t := range strings.Split(joined, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	*l = out
	return nil
}

// Fetch は指定タグの人気記事を取得する。
func (s *DevToSource) Fetch(ctx context.Context, limit int) ([]model.Article, error) {
	if limit <= 0 {
		return nil, nil
	}

	params := url.Values{}
	if len(s.tags) > 0 {
		params.Set("tag", strings.Join(s.tags, ","))
	}
	params.Set("per_page", strconv.Itoa(min(limit, 100)))
	params.Set("top", strconv.Itoa(devToTopDays))

	var items []devToArticle
	if err := s.requester.GetJSON(ctx, s.baseURL+"/articles?"+params.Encode(), nil, &items); err != nil {
		return nil, err
	}

	now := s.now()
	articles := make([]model.Article, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.URL) == "" {
			continue
		}
		author := strings.TrimSpace(item.User.Name)
		if author == "" {
			author = item.User.Username
		}

		a := model.Article{
			Title:         strings.TrimSpace(item.Title),
			Excerpt:       security.TruncateRunes(s.cleaner.PlainText(item.Description), excerptMaxRunes),
			ContentHTML:   s.cleaner.Sanitize(item.BodyHTML),
			CoverImageURL: item.CoverImage,
			OGImage:       item.SocialImage,
			SourceName:    s.Name(),
			SourceURL:     item.URL,
			CanonicalURL:  item.URL,
			Author:        author,
			PublishedAt:   parseTime(item.PublishedAt),
			Tags:          item.TagList,
		}
		finalize(&a, now)
		articles = append(articles, a)
	}

	if len(articles) > limit {
		articles = articles[:limit]
	}
	return articles, nil
}
