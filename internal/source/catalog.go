package source

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/techfeed/internal/model"
)

// Catalog は取り込み対象ソースの一覧を表す。
type Catalog struct {
	Feeds          []FeedConfig `yaml:"feeds"`
	NewsAPIDomains []string     `yaml:"newsapi_domains"`
	DevToTags      []string     `yaml:"devto_tags"`
}

// DefaultCatalog は組み込みのソース一覧を返す。
func DefaultCatalog() Catalog {
	return Catalog{
		Feeds: []FeedConfig{
			{Name: "TechCrunch", URL: "https://techcrunch.com/feed/", Category: "startup"},
			{Name: "The Verge", URL: "https://www.theverge.com/rss/index.xml", Category: "tech"},
			{Name: "Wired", URL: "https://www.wired.com/feed/rss", Category: "tech"},
			{Name: "Ars Technica", URL: "https://feeds.arstechnica.com/arstechnica/index", Category: "tech"},
			{Name: "Engadget", URL: "https://www.engadget.com/rss.xml", Category: "gadgets"},
			{Name: "VentureBeat", URL: "https://venturebeat.com/feed/", Category: "business"},
			{Name: "MIT Technology Review", URL: "https://www.technologyreview.com/feed/", Category: "research"},
			{Name: "TechRadar", URL: "https://www.techradar.com/rss", Category: "reviews"},
			{Name: "ZDNet", URL: "https://www.zdnet.com/news/rss.xml", Category: "enterprise"},
			{Name: "Mashable Tech", URL: "https://mashable.com/feeds/rss/tech", Category: "social"},
			{Name: "Fast Company Tech", URL: "https://www.fastcompany.com/technology/rss", Category: "innovation"},
			{Name: "IEEE Spectrum", URL: "https://spectrum.ieee.org/rss/blog/tech-talk", Category: "engineering"},
		},
		NewsAPIDomains: []string{
			"techcrunch.com", "theverge.com", "wired.com", "arstechnica.com", "engadget.com",
			"venturebeat.com", "technologyreview.com", "techradar.com", "zdnet.com", "mashable.com",
			"fastcompany.com", "spectrum.ieee.org", "recode.net", "gizmodo.com", "lifehacker.com",
		},
		DevToTags: []string{
			"javascript", "python", "react", "nodejs", "webdev", "programming", "ai", "machinelearning",
		},
	}
}

// LoadCatalog はYAMLファイルからカタログを読み込む。
// ファイルで省略されたセクションは組み込みの値を使う。
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	var fromFile Catalog
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}

	cat := DefaultCatalog()
	if fromFile.Feeds != nil {
		cat.Feeds = fromFile.Feeds
	}
	if fromFile.NewsAPIDomains != nil {
		cat.NewsAPIDomains = fromFile.NewsAPIDomains
	}
	if fromFile.DevToTags != nil {
		cat.DevToTags = fromFile.DevToTags
	}

	for i, f := range cat.Feeds {
		if strings.TrimSpace(f.Name) == "" || strings.TrimSpace(f.URL) == "" {
			return Catalog{}, fmt.Errorf("catalog %s: feed #%d requires name and url", path, i+1)
		}
	}
	return cat, nil
}

// WithCustomFeeds は有効なカスタムソースをRSSフィードとして追加したカタログを返す。
// 既にカタログにあるフィードURLは追加しない。
func (c Catalog) WithCustomFeeds(sources []model.NewsSource) Catalog {
	seen := make(map[string]struct{}, len(c.Feeds))
	feeds := make([]FeedConfig, 0, len(c.Feeds)+len(sources))
	for _, f := range c.Feeds {
		seen[strings.ToLower(f.URL)] = struct{}{}
		feeds = append(feeds, f)
	}
	for _, s := range sources {
		if !s.IsActive {
			continue
		}
		key := strings.ToLower(s.FeedURL)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		feeds = append(feeds, FeedConfig{Name: s.Name, URL: s.FeedURL, Category: s.Category})
	}
	c.Feeds = feeds
	return c
}
