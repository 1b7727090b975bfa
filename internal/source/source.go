// Package source は外部ニュースソースのアダプタを提供する。
//
// 各アダプタは取得した記事を model.Article 候補に正規化して返す。
// 呼び出しのたびに再取得し、個々の不正な項目はスキップして処理を継続する。
package source

import (
	"context"
	"strings"
	"time"

	"github.com/hitoshi/techfeed/internal/model"
	"github.com/hitoshi/techfeed/internal/security"
	"github.com/hitoshi/techfeed/internal/tagging"
)

// Source は1つの外部ソースを表す。
type Source interface {
	// Name はログやサマリーに使うソース名を返す。
	Name() string
	// Phase はソースが属する取り込みフェーズ名を返す。
	Phase() string
	// Fetch は最大limit件の記事候補を返す。
	Fetch(ctx context.Context, limit int) ([]model.Article, error)
}

// ContentCleaner は本文HTMLのサニタイズとプレーンテキスト化を行う。
type ContentCleaner interface {
	Sanitize(rawHTML string) string
	PlainText(rawHTML string) string
}

// URLValidator はフィードURLの事前検証を行う。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// excerptMaxRunes はexcerptの最大文字数。
const excerptMaxRunes = 500

// tierOneOutlets は注目記事として扱う媒体。RSSとNewsAPIで共通。
var tierOneOutlets = map[string]struct{}{
	"TechCrunch":   {},
	"The Verge":    {},
	"Wired":        {},
	"Ars Technica": {},
}

// IsTierOne は媒体名が注目媒体に含まれるかを返す。
func IsTierOne(name string) bool {
	_, ok := tierOneOutlets[strings.TrimSpace(name)]
	return ok
}

// maxSourceNameRunes はarticles.source_nameカラムの長さ。
const maxSourceNameRunes = 255

// finalize はアダプタ共通の後処理を行う。
// OGフィールドを本体からミラーし、タグを正規化し、公開日時が無ければnowを入れる。
func finalize(a *model.Article, now time.Time) {
	a.Title = strings.TrimSpace(a.Title)
	a.SourceName = security.TruncateRunes(strings.TrimSpace(a.SourceName), maxSourceNameRunes)
	a.Author = strings.TrimSpace(a.Author)
	a.CanonicalURL = strings.TrimSpace(a.CanonicalURL)
	if a.SourceURL == "" {
		a.SourceURL = a.CanonicalURL
	}
	if a.PublishedAt.IsZero() {
		a.PublishedAt = now
	}
	a.PublishedAt = a.PublishedAt.UTC()
	if a.OGTitle == "" {
		a.OGTitle = a.Title
	}
	if a.OGDescription == "" {
		a.OGDescription = a.Excerpt
	}
	if a.OGImage == "" {
		a.OGImage = a.CoverImageURL
	}
	a.Tags = tagging.Normalize(a.Tags)
	a.IsPublished = true
}

// parseTime はRFC3339系の日時文字列をパースする。失敗時はゼロ値を返す。
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
