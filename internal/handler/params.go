package handler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/techfeed/internal/model"
)

// maxPageSize は記事一覧の1ページあたりの上限。
const maxPageSize = 100

// sortableFields は記事一覧で指定可能な並び替え項目。
var sortableFields = map[string]struct{}{
	"published_at": {},
	"created_at":   {},
	"title":        {},
}

// intParam はクエリパラメータを[min, max]の整数として読む。未指定の場合はdefを返す。
func intParam(q url.Values, name string, def, min, max int) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.NewInvalidParameterError(name, "整数で指定してください")
	}
	if v < min || v > max {
		return 0, model.NewInvalidParameterError(name, fmt.Sprintf("%d以上%d以下で指定してください", min, max))
	}
	return v, nil
}

// boolParam はクエリパラメータを真偽値として読む。未指定の場合はfalseを返す。
func boolParam(q url.Values, name string) (bool, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, model.NewInvalidParameterError(name, "true または false で指定してください")
	}
	return v, nil
}

// timeParam はクエリパラメータをRFC3339または YYYY-MM-DD の日時として読む。
func timeParam(q url.Values, name string) (*time.Time, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, model.NewInvalidParameterError(name, "RFC3339 または YYYY-MM-DD 形式で指定してください")
}

// parseArticleFilter は記事一覧のクエリパラメータを検証してフィルタに変換する。
func parseArticleFilter(q url.Values) (model.ArticleFilter, error) {
	var f model.ArticleFilter
	var err error

	if f.Page, err = intParam(q, "page", 1, 1, 1<<20); err != nil {
		return f, err
	}
	if f.PageSize, err = intParam(q, "page_size", 20, 1, maxPageSize); err != nil {
		return f, err
	}
	if f.FeaturedOnly, err = boolParam(q, "featured_only"); err != nil {
		return f, err
	}
	if f.DateFrom, err = timeParam(q, "date_from"); err != nil {
		return f, err
	}
	if f.DateTo, err = timeParam(q, "date_to"); err != nil {
		return f, err
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateFrom.After(*f.DateTo) {
		return f, model.NewInvalidParameterError("date_from", "date_to より前の日時を指定してください")
	}

	f.SortBy = strings.TrimSpace(q.Get("sort_by"))
	if f.SortBy == "" {
		f.SortBy = "published_at"
	}
	if _, ok := sortableFields[f.SortBy]; !ok {
		return f, model.NewInvalidParameterError("sort_by", "published_at, created_at, title のいずれかを指定してください")
	}

	f.SortOrder = strings.ToLower(strings.TrimSpace(q.Get("sort_order")))
	switch f.SortOrder {
	case "":
		f.SortOrder = "desc"
	case "asc", "desc":
	default:
		return f, model.NewInvalidParameterError("sort_order", "asc または desc を指定してください")
	}

	f.Source = strings.TrimSpace(q.Get("source"))
	f.Tag = strings.TrimSpace(q.Get("tag"))
	f.Author = strings.TrimSpace(q.Get("author"))
	f.Search = strings.TrimSpace(q.Get("search"))
	return f, nil
}

// filterCacheParams はフィルタをキャッシュキー用のパラメータに変換する。
func filterCacheParams(f model.ArticleFilter) map[string]any {
	params := map[string]any{
		"page":       f.Page,
		"page_size":  f.PageSize,
		"source":     f.Source,
		"tag":        f.Tag,
		"author":     f.Author,
		"search":     f.Search,
		"sort_by":    f.SortBy,
		"sort_order": f.SortOrder,
	}
	if f.FeaturedOnly {
		params["featured_only"] = true
	}
	if f.DateFrom != nil {
		params["date_from"] = f.DateFrom.UTC().Format(time.RFC3339)
	}
	if f.DateTo != nil {
		params["date_to"] = f.DateTo.UTC().Format(time.RFC3339)
	}
	return params
}
