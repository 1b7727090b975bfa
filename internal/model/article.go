// Package model はドメインモデルを定義する。
package model

import "time"

// Article はソースを問わず正規化された記事（Canonical Article）を表す。
// CanonicalURLが自然キーであり、永続化層では一意制約で保護される。
type Article struct {
	ID            string
	Slug          string
	Title         string
	Excerpt       string
	ContentHTML   string // サニタイズ済みHTML
	CoverImageURL string
	SourceName    string
	SourceURL     string
	Author        string
	PublishedAt   time.Time
	Tags          []string
	CanonicalURL  string
	OGTitle       string
	OGDescription string
	OGImage       string
	IsFeatured    bool
	IsPublished   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ArticleFilter は記事一覧の検索条件を表す。
type ArticleFilter struct {
	Source       string
	Tag          string
	Author       string
	Search       string
	FeaturedOnly bool
	DateFrom     *time.Time
	DateTo       *time.Time
	SortBy       string
	SortOrder    string
	Page         int
	PageSize     int
}

// ArticlePage は記事一覧のページング結果を表す。
type ArticlePage struct {
	Articles   []Article
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

// HasNext は次ページが存在するかを返す。
func (p ArticlePage) HasNext() bool {
	return p.Page < p.TotalPages
}

// HasPrev は前ページが存在するかを返す。
func (p ArticlePage) HasPrev() bool {
	return p.Page > 1
}

// ArticleStats は保存済み記事の統計情報を表す。
type ArticleStats struct {
	TotalArticles    int
	RecentArticles   int // 直近24時間
	FeaturedArticles int
	BySource         []NameCount
	TopTags          []NameCount
}

// NameCount は名前と件数の組を表す。
type NameCount struct {
	Name  string
	Count int
}
