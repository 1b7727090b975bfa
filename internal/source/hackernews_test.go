package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

// TestHackerNewsSource_Fetch はstory以外とURLなしが除外され、スコアに応じてタグと注目判定が付くことを検証する。
func TestHackerNewsSource_Fetch(t *testing.T) {
	var itemCalls atomic.Int32
	items := map[string]string{
		"/v0/item/1.json": `{"id":1,"type":"story","by":"pg","title":"Show HN: Tool","url":"https://github.com/x/tool","score":250,"descendants":40,"time":1767225600}`,
		"/v0/item/2.json": `{"id":2,"type":"job","title":"Hiring","url":"https://jobs.example.com"}`,
		"/v0/item/3.json": `{"id":3,"type":"story","title":"Ask HN: question","score":500}`,
		"/v0/item/4.json": `{"id":4,"type":"story","title":"Popular post","url":"https://blog.example.com/p","score":150,"descendants":3}`,
		"/v0/item/5.json": `{"id":5,"type":"story","title":"Quiet post","url":"https://quiet.example.com/q","score":5}`,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v0/topstories.json" {
			fmt.Fprint(w, `[1,2,3,4,5,6,7]`)
			return
		}
		itemCalls.Add(1)
		body, ok := items[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	var buf bytes.Buffer
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s := NewHackerNewsSource(server.URL+"/v0", newTestRequester(), newTestLogger(&buf))
	s.now = func() time.Time { return fixed }

	articles, err := s.Fetch(context.Background(), 5)
	if err != nil {
		t.Fatalf("Fetch がエラーを返した: %v", err)
	}
	if got := itemCalls.Load(); got != 5 {
		t.Errorf("item calls = %d, want 5 (先頭limit件のみ)", got)
	}
	if len(articles) != 3 {
		t.Fatalf("len(articles) = %d, want 3", len(articles))
	}

	top := articles[0]
	if top.SourceName != "HN - github.com" {
		t.Errorf("SourceName = %q, want HN - github.com", top.SourceName)
	}
	if top.Excerpt != "Score: 250 points, 40 comments" {
		t.Errorf("Excerpt = %q", top.Excerpt)
	}
	if !top.IsFeatured {
		t.Error("score > 200 should be featured")
	}
	if !reflect.DeepEqual(top.Tags, []string{"hacker-news", "popular", "tech"}) {
		t.Errorf("Tags = %v", top.Tags)
	}
	if !top.PublishedAt.Equal(time.Unix(1767225600, 0)) {
		t.Errorf("PublishedAt = %v", top.PublishedAt)
	}
	if top.SourceURL != "https://news.ycombinator.com/item?id=1" {
		t.Errorf("SourceURL = %q", top.SourceURL)
	}

	popular := articles[1]
	if popular.IsFeatured {
		t.Error("score 150 should not be featured")
	}
	if !containsTag(popular.Tags, "popular") {
		t.Errorf("Tags = %v, expected popular", popular.Tags)
	}
	if !popular.PublishedAt.Equal(fixed) {
		t.Errorf("missing time should fall back to now, got %v", popular.PublishedAt)
	}

	quiet := articles[2]
	if containsTag(quiet.Tags, "popular") || quiet.IsFeatured {
		t.Errorf("quiet post should not be popular or featured: %+v", quiet)
	}
}

// TestHackerNewsSource_Fetch_TopStoriesFailure はID一覧の取得失敗がエラーになることを検証する。
func TestHackerNewsSource_Fetch_TopStoriesFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	var buf bytes.Buffer
	s := NewHackerNewsSource(server.URL, newTestRequester(), newTestLogger(&buf))
	if _, err := s.Fetch(context.Background(), 5); err == nil {
		t.Fatal("expected error when topstories fails")
	}
}

// TestHNSourceName はURLからソース名を組み立てることを検証する。
func TestHNSourceName(t *testing.T) {
	tests := map[string]string{
		"https://www.example.com/a": "HN - www.example.com",
		"http://example.org:8080/":  "HN - example.org",
		"::not a url":               "Hacker News",
	}
	for in, want := range tests {
		if got := hnSourceName(in); got != want {
			t.Errorf("hnSourceName(%q) = %q, want %q", in, got, want)
		}
	}
}
