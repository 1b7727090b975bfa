package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/hitoshi/techfeed/internal/model"
)

// ページングの既定値と上限。
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// articleColumns はarticlesテーブルから読み取るカラム。scanArticleの順序と一致させること。
var articleColumns = []string{
	"id", "slug", "title", "excerpt", "content_html", "cover_image_url",
	"source_name", "source_url", "author", "published_at", "tags", "canonical_url",
	"og_title", "og_description", "og_image", "is_featured", "is_published",
	"created_at", "updated_at",
}

// sortColumns はsort_byに指定できるカラム。
var sortColumns = map[string]string{
	"published_at": "published_at",
	"created_at":   "created_at",
	"title":        "title",
}

// psql はPostgreSQLのプレースホルダ（$1, $2, ...）を使うクエリビルダー。
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
// 取り込み用のArticleStoreと読み取り用のArticleReaderを兼ねる。
type PostgresArticleRepo struct {
	db *sql.DB
}

var (
	_ ArticleStore  = (*PostgresArticleRepo)(nil)
	_ ArticleReader = (*PostgresArticleRepo)(nil)
)

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

// Begin は取り込みバッチ用のトランザクションを開始する。
func (r *PostgresArticleRepo) Begin(ctx context.Context) (ArticleTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresArticleTx{tx: tx}, nil
}

// postgresArticleTx は1回の取り込みバッチのトランザクション。
// 各操作をSAVEPOINTで囲み、1件の失敗でトランザクション全体が中断状態にならないようにする。
type postgresArticleTx struct {
	tx *sql.Tx
}

const savepointName = "article_write"

// withSavepoint はfnをSAVEPOINT内で実行し、失敗時はSAVEPOINTまで巻き戻す。
func (t *postgresArticleTx) withSavepoint(ctx context.Context, fn func() error) error {
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+savepointName); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepointName); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back to savepoint: %w", rbErr))
		}
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepointName); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

// FindByCanonicalURL はcanonical URLで記事を検索する。見つからない場合はnilを返す。
func (t *postgresArticleTx) FindByCanonicalURL(ctx context.Context, canonicalURL string) (*model.Article, error) {
	var found *model.Article
	err := t.withSavepoint(ctx, func() error {
		query, args, err := psql.Select(articleColumns...).
			From("articles").
			Where(sq.Eq{"canonical_url": canonicalURL}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build query: %w", err)
		}

		a, err := scanArticle(t.tx.QueryRowContext(ctx, query, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("canonical URLによる記事の検索に失敗しました: %w", err)
		}
		found = a
		return nil
	})
	return found, err
}

// Insert は記事を新規作成する。
func (t *postgresArticleTx) Insert(ctx context.Context, a *model.Article) error {
	return t.withSavepoint(ctx, func() error {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO articles (id, slug, title, excerpt, content_html, cover_image_url,
			                       source_name, source_url, author, published_at, tags, canonical_url,
			                       og_title, og_description, og_image, is_featured, is_published,
			                       created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
			a.ID, a.Slug, a.Title, nullString(a.Excerpt), nullString(a.ContentHTML), nullString(a.CoverImageURL),
			a.SourceName, nullString(a.SourceURL), nullString(a.Author), a.PublishedAt,
			pq.StringArray(nonNilTags(a.Tags)), a.CanonicalURL,
			nullString(a.OGTitle), nullString(a.OGDescription), nullString(a.OGImage),
			a.IsFeatured, a.IsPublished, a.CreatedAt, a.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("記事は既に登録されています: %w", err)
			}
			return fmt.Errorf("記事の作成に失敗しました: %w", err)
		}
		return nil
	})
}

// Update は既存記事をIDで更新する。slugとcreated_atは変更しない。
func (t *postgresArticleTx) Update(ctx context.Context, a *model.Article) error {
	return t.withSavepoint(ctx, func() error {
		_, err := t.tx.ExecContext(ctx,
			`UPDATE articles SET
			    title = $2, excerpt = $3, content_html = $4, cover_image_url = $5,
			    source_name = $6, source_url = $7, author = $8, published_at = $9,
			    tags = $10, og_title = $11, og_description = $12, og_image = $13,
			    is_featured = $14, is_published = $15, updated_at = $16
			 WHERE id = $1`,
			a.ID, a.Title, nullString(a.Excerpt), nullString(a.ContentHTML), nullString(a.CoverImageURL),
			a.SourceName, nullString(a.SourceURL), nullString(a.Author), a.PublishedAt,
			pq.StringArray(nonNilTags(a.Tags)),
			nullString(a.OGTitle), nullString(a.OGDescription), nullString(a.OGImage),
			a.IsFeatured, a.IsPublished, a.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("記事の更新に失敗しました: %w", err)
		}
		return nil
	})
}

// Commit はトランザクションをコミットする。
func (t *postgresArticleTx) Commit() error {
	return t.tx.Commit()
}

// Rollback はトランザクションをロールバックする。コミット済みの場合は何もしない。
func (t *postgresArticleTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// List はフィルタとページングを適用した公開記事の一覧を返す。
func (r *PostgresArticleRepo) List(ctx context.Context, filter model.ArticleFilter) (*model.ArticlePage, error) {
	filter = normalizeFilter(filter)

	countQuery, countArgs, err := buildCountQuery(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to build count query: %w", err)
	}
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("記事件数の取得に失敗しました: %w", err)
	}

	query, args, err := buildListQuery(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}
	articles, err := r.queryArticles(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &model.ArticlePage{
		Articles:   articles,
		Total:      total,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalPages: (total + filter.PageSize - 1) / filter.PageSize,
	}, nil
}

// FindBySlug はスラッグで公開記事を検索する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindBySlug(ctx context.Context, slug string) (*model.Article, error) {
	query, args, err := psql.Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"slug": slug, "is_published": true}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	a, err := scanArticle(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("スラッグによる記事の取得に失敗しました: %w", err)
	}
	return a, nil
}

// Trending はsince以降の公開記事を注目記事優先、公開日時の降順で返す。
func (r *PostgresArticleRepo) Trending(ctx context.Context, since time.Time, limit int) ([]model.Article, error) {
	query, args, err := buildTrendingQuery(since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to build trending query: %w", err)
	}
	return r.queryArticles(ctx, query, args...)
}

// Stats は公開記事の統計情報を返す。直近の件数はnowから24時間以内を数える。
func (r *PostgresArticleRepo) Stats(ctx context.Context, now time.Time) (*model.ArticleStats, error) {
	stats := &model.ArticleStats{}

	query, args, err := buildStatsQuery(now)
	if err != nil {
		return nil, fmt.Errorf("failed to build stats query: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalArticles, &stats.RecentArticles, &stats.FeaturedArticles,
	); err != nil {
		return nil, fmt.Errorf("記事統計の取得に失敗しました: %w", err)
	}

	bySource := psql.Select("source_name", "COUNT(*) AS n").
		From("articles").
		Where(sq.Eq{"is_published": true}).
		GroupBy("source_name").
		OrderBy("n DESC", "source_name").
		Limit(10)
	if stats.BySource, err = r.queryNameCounts(ctx, bySource); err != nil {
		return nil, fmt.Errorf("ソース別件数の取得に失敗しました: %w", err)
	}

	topTags := psql.Select("tag", "COUNT(*) AS n").
		From("articles, unnest(tags) AS tag").
		Where(sq.Eq{"is_published": true}).
		GroupBy("tag").
		OrderBy("n DESC", "tag").
		Limit(10)
	if stats.TopTags, err = r.queryNameCounts(ctx, topTags); err != nil {
		return nil, fmt.Errorf("タグ別件数の取得に失敗しました: %w", err)
	}

	return stats, nil
}

func (r *PostgresArticleRepo) queryNameCounts(ctx context.Context, b sq.SelectBuilder) ([]model.NameCount, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.NameCount
	for rows.Next() {
		var nc model.NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, err
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}

func (r *PostgresArticleRepo) queryArticles(ctx context.Context, query string, args ...any) ([]model.Article, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	articles := []model.Article{}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("記事行の読み取りに失敗しました: %w", err)
		}
		articles = append(articles, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事一覧の走査に失敗しました: %w", err)
	}
	return articles, nil
}

// normalizeFilter はページ番号、ページサイズ、並び順を既定値と上限に収める。
func normalizeFilter(f model.ArticleFilter) model.ArticleFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	if _, ok := sortColumns[f.SortBy]; !ok {
		f.SortBy = "published_at"
	}
	if strings.ToLower(f.SortOrder) == "asc" {
		f.SortOrder = "ASC"
	} else {
		f.SortOrder = "DESC"
	}
	return f
}

// filterConditions はフィルタをWHERE条件に変換する。公開記事のみを対象とする。
func filterConditions(f model.ArticleFilter) sq.And {
	cond := sq.And{sq.Eq{"is_published": true}}
	if f.Source != "" {
		cond = append(cond, sq.Eq{"source_name": f.Source})
	}
	if f.Tag != "" {
		cond = append(cond, sq.Expr("? = ANY(tags)", strings.ToLower(f.Tag)))
	}
	if f.Author != "" {
		cond = append(cond, sq.ILike{"author": "%" + escapeLike(f.Author) + "%"})
	}
	if f.Search != "" {
		pattern := "%" + escapeLike(f.Search) + "%"
		cond = append(cond, sq.Or{
			sq.ILike{"title": pattern},
			sq.ILike{"excerpt": pattern},
		})
	}
	if f.FeaturedOnly {
		cond = append(cond, sq.Eq{"is_featured": true})
	}
	if f.DateFrom != nil {
		cond = append(cond, sq.GtOrEq{"published_at": *f.DateFrom})
	}
	if f.DateTo != nil {
		cond = append(cond, sq.LtOrEq{"published_at": *f.DateTo})
	}
	return cond
}

// buildListQuery は記事一覧のSELECT文を組み立てる。fは正規化済みであること。
func buildListQuery(f model.ArticleFilter) (string, []any, error) {
	return psql.Select(articleColumns...).
		From("articles").
		Where(filterConditions(f)).
		OrderBy(sortColumns[f.SortBy]+" "+f.SortOrder, "id").
		Limit(uint64(f.PageSize)).
		Offset(uint64((f.Page - 1) * f.PageSize)).
		ToSql()
}

// buildCountQuery は記事一覧の総件数を数えるSELECT文を組み立てる。
func buildCountQuery(f model.ArticleFilter) (string, []any, error) {
	return psql.Select("COUNT(*)").
		From("articles").
		Where(filterConditions(f)).
		ToSql()
}

// buildTrendingQuery は注目記事優先の新着一覧のSELECT文を組み立てる。
func buildTrendingQuery(since time.Time, limit int) (string, []any, error) {
	if limit < 1 {
		limit = 10
	}
	return psql.Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"is_published": true}).
		Where(sq.GtOrEq{"published_at": since}).
		OrderBy("is_featured DESC", "published_at DESC", "id").
		Limit(uint64(limit)).
		ToSql()
}

// buildStatsQuery は総件数、直近24時間の件数、注目記事数を1回で数えるSELECT文を組み立てる。
func buildStatsQuery(now time.Time) (string, []any, error) {
	return psql.Select("COUNT(*)").
		Column(sq.Expr("COUNT(*) FILTER (WHERE published_at >= ?)", now.Add(-24*time.Hour))).
		Column("COUNT(*) FILTER (WHERE is_featured)").
		From("articles").
		Where(sq.Eq{"is_published": true}).
		ToSql()
}

// escapeLike はLIKEパターンの特殊文字をエスケープする。
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanArticle は1行を記事に変換する。
func scanArticle(row rowScanner) (*model.Article, error) {
	a := &model.Article{}
	var excerpt, contentHTML, cover, sourceURL, author, ogTitle, ogDesc, ogImage sql.NullString
	var tags pq.StringArray

	if err := row.Scan(
		&a.ID, &a.Slug, &a.Title, &excerpt, &contentHTML, &cover,
		&a.SourceName, &sourceURL, &author, &a.PublishedAt, &tags, &a.CanonicalURL,
		&ogTitle, &ogDesc, &ogImage, &a.IsFeatured, &a.IsPublished,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	a.Excerpt = nullStringValue(excerpt)
	a.ContentHTML = nullStringValue(contentHTML)
	a.CoverImageURL = nullStringValue(cover)
	a.SourceURL = nullStringValue(sourceURL)
	a.Author = nullStringValue(author)
	a.OGTitle = nullStringValue(ogTitle)
	a.OGDescription = nullStringValue(ogDesc)
	a.OGImage = nullStringValue(ogImage)
	a.PublishedAt = a.PublishedAt.UTC()
	if len(tags) > 0 {
		a.Tags = []string(tags)
	}
	return a, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// isUniqueViolation は一意制約違反（23505）かを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
