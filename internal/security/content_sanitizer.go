package security

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer は外部ソースから取得した記事本文とexcerptを安全な形に整える。
type ContentSanitizer interface {
	// Sanitize は許可リストにないタグと属性を除去したHTMLを返す。
	Sanitize(rawHTML string) string

	// PlainText はHTMLからテキストのみを取り出し、空白を1つにまとめて返す。
	PlainText(rawHTML string) string
}

// contentSanitizer はbluemondayのポリシーを保持する。ポリシーはスレッドセーフ。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer は記事本文用のポリシーを構築する。
//   - 許可タグ: p, br, a, ul, ol, li, blockquote, pre, code, strong, em, h2-h4, figure, figcaption, img
//   - imgのsrcとリンクはhttpsのみ、相対URLは不可
//   - aタグには target="_blank" と rel="noopener noreferrer" を付与
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "h2", "h3", "h4",
		"figure", "figcaption",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})

	return &contentSanitizer{policy: p}
}

var _ ContentSanitizer = (*contentSanitizer)(nil)

// Sanitize はHTMLをサニタイズする。同一入力には同一出力を返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return strings.TrimSpace(s.policy.Sanitize(rawHTML))
}

// PlainText はHTMLのテキストノードを連結する。パースできない入力はそのまま空白整形して返す。
func (s *contentSanitizer) PlainText(rawHTML string) string {
	if strings.TrimSpace(rawHTML) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return collapseSpace(rawHTML)
	}
	doc.Find("script, style").Remove()
	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TruncateRunes はmaxを超える文字列を max-3 文字 + "..." に切り詰める。
// 文字数はルーン単位で数える。
func TruncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
