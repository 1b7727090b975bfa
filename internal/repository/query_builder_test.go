package repository

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/techfeed/internal/model"
)

// TestNormalizeFilter はページングと並び順が既定値と上限に収まることを検証する。
func TestNormalizeFilter(t *testing.T) {
	tests := []struct {
		name string
		in   model.ArticleFilter
		want model.ArticleFilter
	}{
		{
			name: "zero value",
			in:   model.ArticleFilter{},
			want: model.ArticleFilter{Page: 1, PageSize: DefaultPageSize, SortBy: "published_at", SortOrder: "DESC"},
		},
		{
			name: "page size capped",
			in:   model.ArticleFilter{Page: 3, PageSize: 500, SortBy: "title", SortOrder: "asc"},
			want: model.ArticleFilter{Page: 3, PageSize: MaxPageSize, SortBy: "title", SortOrder: "ASC"},
		},
		{
			name: "unknown sort column",
			in:   model.ArticleFilter{Page: -1, PageSize: 10, SortBy: "id; DROP TABLE articles", SortOrder: "sideways"},
			want: model.ArticleFilter{Page: 1, PageSize: 10, SortBy: "published_at", SortOrder: "DESC"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeFilter(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("normalizeFilter = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// TestBuildListQuery_Default は既定の一覧クエリが公開記事のみを新しい順に返すことを検証する。
func TestBuildListQuery_Default(t *testing.T) {
	query, args, err := buildListQuery(normalizeFilter(model.ArticleFilter{Page: 2}))
	if err != nil {
		t.Fatalf("buildListQuery がエラーを返した: %v", err)
	}

	for _, want := range []string{
		"FROM articles",
		"is_published = $1",
		"ORDER BY published_at DESC, id",
		"LIMIT 20",
		"OFFSET 20",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query should contain %q:\n%s", want, query)
		}
	}
	if !reflect.DeepEqual(args, []any{true}) {
		t.Errorf("args = %v, want [true]", args)
	}
}

// TestBuildListQuery_AllFilters は全フィルタが条件とプレースホルダに反映されることを検証する。
func TestBuildListQuery_AllFilters(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(48 * time.Hour)
	f := normalizeFilter(model.ArticleFilter{
		Source:       "TechCrunch",
		Tag:          "AI",
		Author:       "jane",
		Search:       "100%_go",
		FeaturedOnly: true,
		DateFrom:     &from,
		DateTo:       &to,
		SortBy:       "title",
		SortOrder:    "asc",
	})

	query, args, err := buildListQuery(f)
	if err != nil {
		t.Fatalf("buildListQuery がエラーを返した: %v", err)
	}

	for _, want := range []string{
		"source_name = $2",
		"$3 = ANY(tags)",
		"author ILIKE $4",
		"title ILIKE $5",
		"excerpt ILIKE $6",
		"is_featured = $7",
		"published_at >= $8",
		"published_at <= $9",
		"ORDER BY title ASC, id",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query should contain %q:\n%s", want, query)
		}
	}

	wantArgs := []any{true, "TechCrunch", "ai", "%jane%", `%100\%\_go%`, `%100\%\_go%`, true, from, to}
	if !reflect.DeepEqual(args, wantArgs) {
		t.Errorf("args = %#v\nwant %#v", args, wantArgs)
	}

	countQuery, countArgs, err := buildCountQuery(f)
	if err != nil {
		t.Fatalf("buildCountQuery がエラーを返した: %v", err)
	}
	if !strings.HasPrefix(countQuery, "SELECT COUNT(*) FROM articles") {
		t.Errorf("count query = %s", countQuery)
	}
	if strings.Contains(countQuery, "LIMIT") || strings.Contains(countQuery, "ORDER BY") {
		t.Errorf("count query should not be paginated: %s", countQuery)
	}
	if !reflect.DeepEqual(countArgs, wantArgs) {
		t.Errorf("count args = %#v", countArgs)
	}
}

// TestBuildTrendingQuery は注目記事が優先されることを検証する。
func TestBuildTrendingQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args, err := buildTrendingQuery(since, 0)
	if err != nil {
		t.Fatalf("buildTrendingQuery がエラーを返した: %v", err)
	}
	if !strings.Contains(query, "ORDER BY is_featured DESC, published_at DESC, id") {
		t.Errorf("query = %s", query)
	}
	if !strings.Contains(query, "LIMIT 10") {
		t.Errorf("default limit should be 10: %s", query)
	}
	if !reflect.DeepEqual(args, []any{true, since}) {
		t.Errorf("args = %v", args)
	}
}

// TestBuildStatsQuery は直近24時間の境界が引数に渡ることを検証する。
func TestBuildStatsQuery(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	query, args, err := buildStatsQuery(now)
	if err != nil {
		t.Fatalf("buildStatsQuery がエラーを返した: %v", err)
	}
	if !strings.Contains(query, "FILTER (WHERE published_at >= $1)") || !strings.Contains(query, "is_published = $2") {
		t.Errorf("query = %s", query)
	}
	if !reflect.DeepEqual(args, []any{now.Add(-24 * time.Hour), true}) {
		t.Errorf("args = %v", args)
	}
}

// TestEscapeLike はLIKEの特殊文字がエスケープされることを検証する。
func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`a_b%c\d`); got != `a\_b\%c\\d` {
		t.Errorf("escapeLike = %q", got)
	}
}
