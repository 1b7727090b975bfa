// Package feed はカスタムRSSソースの検出と登録を提供する。
package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hitoshi/techfeed/internal/model"
	"github.com/hitoshi/techfeed/internal/security"
)

// FeedType はフィードの種類（RSS/Atom）を表す。
type FeedType string

const (
	// FeedTypeRSS はRSSフィード。
	FeedTypeRSS FeedType = "rss"
	// FeedTypeAtom はAtomフィード。
	FeedTypeAtom FeedType = "atom"
)

// maxCandidates はHTMLから検出した候補のうち実際に取得を試みる数。
const maxCandidates = 3

// userAgent は検出リクエストに付与するUser-Agent。
const userAgent = "TechFeed-FeedDetector/1.0"

// Candidate はHTMLのlink要素から検出したフィード候補。
type Candidate struct {
	URL   string
	Type  FeedType
	Title string
}

// Detection は検出に成功したフィードの情報。
type Detection struct {
	FeedURL string
	SiteURL string
	Title   string
	Type    FeedType
}

// FeedDetector はサイトURLまたはフィードURLから購読可能なフィードを特定する。
type FeedDetector struct {
	guard       security.URLGuard
	client      *http.Client
	maxBodySize int64
	logger      *slog.Logger
}

// NewFeedDetector はFeedDetectorを生成する。HTTPクライアントはguardのSSRF対策付きクライアントを使う。
func NewFeedDetector(guard security.URLGuard, timeout time.Duration, maxBodySize int64, logger *slog.Logger) *FeedDetector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxBodySize <= 0 {
		maxBodySize = 5 << 20
	}
	return &FeedDetector{
		guard:       guard,
		client:      guard.NewSafeClient(timeout),
		maxBodySize: maxBodySize,
		logger:      logger,
	}
}

// fetched は1回のGETの結果。
type fetched struct {
	finalURL    string
	contentType string
	body        []byte
}

// Detect はinputURLを取得し、フィードそのものであればそれを、
// HTMLであればheadのalternateリンクから最適な候補を選んで返す。
// 候補は実際に取得してフィードとして解析できたものだけを採用する。
func (d *FeedDetector) Detect(ctx context.Context, inputURL string) (*Detection, error) {
	inputURL = strings.TrimSpace(inputURL)
	if inputURL == "" {
		return nil, model.NewInvalidURLError("URLが入力されていません")
	}
	if err := d.guard.ValidateURL(inputURL); err != nil {
		if errors.Is(err, security.ErrBlockedURL) {
			return nil, model.NewSSRFBlockedError()
		}
		return nil, model.NewInvalidURLError(err.Error())
	}

	page, err := d.fetch(ctx, inputURL)
	if err != nil {
		return nil, err
	}

	if looksLikeFeed(page.contentType, page.body) {
		det, err := parseDetection(page)
		if err != nil {
			return nil, model.NewParseFailedError()
		}
		return det, nil
	}

	if !isHTML(page.contentType, page.body) {
		return nil, model.NewFeedNotDetectedError(inputURL)
	}

	candidates := rankCandidates(FeedLinks(page.body, page.finalURL), page.finalURL)
	for i, c := range candidates {
		if i >= maxCandidates {
			break
		}
		if err := d.guard.ValidateURL(c.URL); err != nil {
			continue
		}
		feedPage, err := d.fetch(ctx, c.URL)
		if err != nil {
			d.logger.Debug("フィード候補の取得に失敗しました",
				slog.String("candidate", c.URL),
				slog.String("error", err.Error()),
			)
			continue
		}
		det, err := parseDetection(feedPage)
		if err != nil {
			continue
		}
		if det.SiteURL == "" {
			det.SiteURL = page.finalURL
		}
		if det.Title == "" {
			det.Title = c.Title
		}
		return det, nil
	}

	return nil, model.NewFeedNotDetectedError(inputURL)
}

func (d *FeedDetector) fetch(ctx context.Context, rawURL string) (*fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.9, */*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, security.ErrBlockedURL) {
			return nil, model.NewSSRFBlockedError()
		}
		return nil, model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewFetchFailedError(fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBodySize))
	if err != nil {
		return nil, model.NewFetchFailedError(fmt.Sprintf("レスポンスの読み取りに失敗: %v", err))
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &fetched{finalURL: finalURL, contentType: resp.Header.Get("Content-Type"), body: body}, nil
}

// parseDetection はフィード本文をgofeedで解析し、タイトルとサイトURLを取り出す。
func parseDetection(page *fetched) (*Detection, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(page.body))
	if err != nil {
		return nil, err
	}
	det := &Detection{
		FeedURL: page.finalURL,
		SiteURL: parsed.Link,
		Title:   strings.TrimSpace(parsed.Title),
		Type:    FeedTypeRSS,
	}
	if parsed.FeedType == "atom" {
		det.Type = FeedTypeAtom
	}
	return det, nil
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mt)
}

// looksLikeFeed はContent-Typeまたは本文の先頭からRSS/Atomかを判定する。
func looksLikeFeed(contentType string, body []byte) bool {
	switch mediaType(contentType) {
	case "application/rss+xml", "application/atom+xml", "application/rdf+xml":
		return true
	case "text/html", "application/xhtml+xml":
		return false
	}

	head := body
	if len(head) > 4096 {
		head = head[:4096]
	}
	lower := bytes.ToLower(head)
	return bytes.Contains(lower, []byte("<rss")) ||
		bytes.Contains(lower, []byte("<rdf:rdf")) ||
		(bytes.Contains(lower, []byte("<feed")) && bytes.Contains(lower, []byte("http://www.w3.org/2005/atom")))
}

func isHTML(contentType string, body []byte) bool {
	mt := mediaType(contentType)
	if strings.Contains(mt, "html") {
		return true
	}
	return mt == "" && strings.Contains(http.DetectContentType(body), "text/html")
}

// FeedLinks はHTMLのheadにあるrel="alternate"のRSS/Atomリンクを文書順に返す。
// 相対URLはbaseURLを基準に解決する。
func FeedLinks(body []byte, baseURL string) []Candidate {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var out []Candidate
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Link {
			if c, ok := candidateFromLink(n, base); ok {
				out = append(out, c)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return out
}

func candidateFromLink(n *html.Node, base *url.URL) (Candidate, bool) {
	var rel, typ, href, title string
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "rel":
			rel = strings.ToLower(a.Val)
		case "type":
			typ = strings.ToLower(strings.TrimSpace(a.Val))
		case "href":
			href = strings.TrimSpace(a.Val)
		case "title":
			title = strings.TrimSpace(a.Val)
		}
	}
	if href == "" || !hasToken(rel, "alternate") {
		return Candidate{}, false
	}

	var ft FeedType
	switch typ {
	case "application/rss+xml":
		ft = FeedTypeRSS
	case "application/atom+xml":
		ft = FeedTypeAtom
	default:
		return Candidate{}, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return Candidate{}, false
	}
	return Candidate{URL: base.ResolveReference(ref).String(), Type: ft, Title: title}, true
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if f == token {
			return true
		}
	}
	return false
}

// rankCandidates は同一ホスト、Atom、文書順の優先順位で候補を並べ替える。
func rankCandidates(candidates []Candidate, pageURL string) []Candidate {
	host := hostOf(pageURL)
	score := func(c Candidate) int {
		s := 0
		if hostOf(c.URL) == host {
			s += 2
		}
		if c.Type == FeedTypeAtom {
			s++
		}
		return s
	}

	ranked := append([]Candidate(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return score(ranked[i]) > score(ranked[j])
	})
	return ranked
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
