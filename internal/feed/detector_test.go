package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/techfeed/internal/model"
	"github.com/hitoshi/techfeed/internal/security"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// mockGuard はsecurity.URLGuardのテスト用モック。httptestのループバックアドレスを許可する。
type mockGuard struct {
	blocked map[string]bool
}

func (m *mockGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (m *mockGuard) ValidateURL(rawURL string) error {
	if m.blocked[rawURL] {
		return fmt.Errorf("address: %w", security.ErrBlockedURL)
	}
	return nil
}

func newTestDetector(guard *mockGuard) *FeedDetector {
	var buf bytes.Buffer
	if guard == nil {
		guard = &mockGuard{}
	}
	return NewFeedDetector(guard, 5*time.Second, 1<<20, newTestLogger(&buf))
}

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Go Weekly</title>
    <link>https://golangweekly.example.com</link>
    <description>Test</description>
  </channel>
</rss>`

const testAtom = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Blog</title>
  <link href="https://blog.example.com"/>
  <id>urn:uuid:1</id>
  <updated>2026-01-01T00:00:00Z</updated>
</feed>`

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *model.APIError", err)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %q, want %q", apiErr.Code, code)
	}
}

// TestLooksLikeFeed はContent-Typeと本文からフィードを判定することを検証する。
func TestLooksLikeFeed(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        bool
	}{
		{"rss content type", "application/rss+xml", "", true},
		{"atom with charset", "application/atom+xml; charset=utf-8", "", true},
		{"generic xml with rss body", "text/xml", testRSS, true},
		{"generic xml with atom body", "application/xml", testAtom, true},
		{"html", "text/html", "<rss>", false},
		{"xml but not a feed", "application/xml", "<note><to>x</to></note>", false},
		{"missing content type with rss body", "", testRSS, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := looksLikeFeed(tt.contentType, []byte(tt.body)); got != tt.want {
				t.Errorf("looksLikeFeed = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestFeedLinks はheadのalternateリンクだけが解決済みURLで返ることを検証する。
func TestFeedLinks(t *testing.T) {
	page := `<!DOCTYPE html><html><head>
<link rel="stylesheet" href="/style.css">
<link rel="alternate" type="application/rss+xml" title="RSS" href="/feed.xml">
<link rel="Alternate home" type="application/atom+xml" href="https://cdn.example.net/atom.xml">
<link rel="alternate" type="text/html" href="/en">
</head><body>
<link rel="alternate" type="application/rss+xml" href="/body-feed.xml">
</body></html>`

	got := FeedLinks([]byte(page), "https://example.com/blog/")
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2: %+v", len(got), got)
	}
	if got[0].URL != "https://example.com/feed.xml" || got[0].Type != FeedTypeRSS || got[0].Title != "RSS" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].URL != "https://cdn.example.net/atom.xml" || got[1].Type != FeedTypeAtom {
		t.Errorf("got[1] = %+v", got[1])
	}
}

// TestRankCandidates は同一ホスト、Atom、文書順の優先順位を検証する。
func TestRankCandidates(t *testing.T) {
	candidates := []Candidate{
		{URL: "https://other.example.net/rss", Type: FeedTypeRSS},
		{URL: "https://other.example.net/atom", Type: FeedTypeAtom},
		{URL: "https://example.com/rss", Type: FeedTypeRSS},
		{URL: "https://example.com/atom", Type: FeedTypeAtom},
		{URL: "https://example.com/atom2", Type: FeedTypeAtom},
	}
	got := rankCandidates(candidates, "https://example.com/")
	want := []string{
		"https://example.com/atom",
		"https://example.com/atom2",
		"https://example.com/rss",
		"https://other.example.net/atom",
		"https://other.example.net/rss",
	}
	for i, w := range want {
		if got[i].URL != w {
			t.Errorf("got[%d] = %s, want %s", i, got[i].URL, w)
		}
	}
	if candidates[0].URL != "https://other.example.net/rss" {
		t.Error("rankCandidates should not modify its input")
	}
}

// TestDetect_DirectFeed はフィードURLが直接与えられた場合にタイトルとサイトURLを返すことを検証する。
func TestDetect_DirectFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("User-Agent should be set")
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, testRSS)
	}))
	defer server.Close()

	det, err := newTestDetector(nil).Detect(context.Background(), server.URL+"/feed.xml")
	if err != nil {
		t.Fatalf("Detect がエラーを返した: %v", err)
	}
	if det.FeedURL != server.URL+"/feed.xml" || det.Title != "Go Weekly" || det.Type != FeedTypeRSS {
		t.Errorf("detection = %+v", det)
	}
	if det.SiteURL != "https://golangweekly.example.com" {
		t.Errorf("SiteURL = %q", det.SiteURL)
	}
}

// TestDetect_HTMLWithAlternateLinks はHTMLから優先度の高い候補を採用することを検証する。
func TestDetect_HTMLWithAlternateLinks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head>
<link rel="alternate" type="application/rss+xml" href="/rss.xml">
<link rel="alternate" type="application/atom+xml" href="/atom.xml" title="Atom">
</head><body></body></html>`)
	})
	mux.HandleFunc("/atom.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprint(w, testAtom)
	})
	mux.HandleFunc("/rss.xml", func(w http.ResponseWriter, r *http.Request) {
		t.Error("lower-ranked candidate should not be fetched when the first succeeds")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	det, err := newTestDetector(nil).Detect(context.Background(), server.URL+"/")
	if err != nil {
		t.Fatalf("Detect がエラーを返した: %v", err)
	}
	if det.FeedURL != server.URL+"/atom.xml" || det.Type != FeedTypeAtom || det.Title != "Atom Blog" {
		t.Errorf("detection = %+v", det)
	}
}

// TestDetect_FallsBackToNextCandidate は最初の候補が壊れている場合に次の候補を試すことを検証する。
func TestDetect_FallsBackToNextCandidate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head>
<link rel="alternate" type="application/atom+xml" href="/broken.xml">
<link rel="alternate" type="application/rss+xml" href="/rss.xml">
</head></html>`)
	})
	mux.HandleFunc("/broken.xml", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})
	mux.HandleFunc("/rss.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testRSS)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	det, err := newTestDetector(nil).Detect(context.Background(), server.URL+"/")
	if err != nil {
		t.Fatalf("Detect がエラーを返した: %v", err)
	}
	if det.FeedURL != server.URL+"/rss.xml" {
		t.Errorf("FeedURL = %q", det.FeedURL)
	}
}

// TestDetect_Errors は検出失敗時のエラーコードを検証する。
func TestDetect_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/plain":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><head><title>No feeds</title></head></html>`)
		case "/json":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{}`)
		case "/broken-feed":
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprint(w, `<rss><channel><item>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	tests := []struct {
		name  string
		url   string
		guard *mockGuard
		code  string
	}{
		{"empty", "  ", nil, model.ErrCodeInvalidURL},
		{"blocked", server.URL + "/plain", &mockGuard{blocked: map[string]bool{server.URL + "/plain": true}}, model.ErrCodeSSRFBlocked},
		{"html without links", server.URL + "/plain", nil, model.ErrCodeFeedNotDetected},
		{"not html nor feed", server.URL + "/json", nil, model.ErrCodeFeedNotDetected},
		{"status 404", server.URL + "/missing", nil, model.ErrCodeFetchFailed},
		{"malformed feed", server.URL + "/broken-feed", nil, model.ErrCodeParseFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestDetector(tt.guard).Detect(context.Background(), tt.url)
			assertAPIErrorCode(t, err, tt.code)
		})
	}
}
