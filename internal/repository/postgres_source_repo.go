package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/hitoshi/techfeed/internal/model"
)

// ErrDuplicateSource は同名または同一URLのソースが既に存在することを示す。
var ErrDuplicateSource = errors.New("news source already exists")

var sourceColumns = []string{
	"id", "name", "feed_url", "site_url", "category", "is_active", "created_at", "updated_at",
}

// PostgresSourceRepo はPostgreSQLを使用したカスタムソースリポジトリ。
type PostgresSourceRepo struct {
	db *sql.DB
}

var _ NewsSourceRepository = (*PostgresSourceRepo)(nil)

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

// ListActive は有効なカスタムソースを名前順で返す。
func (r *PostgresSourceRepo) ListActive(ctx context.Context) ([]model.NewsSource, error) {
	return r.list(ctx, psql.Select(sourceColumns...).
		From("news_sources").
		Where(sq.Eq{"is_active": true}).
		OrderBy("name"))
}

// List は全カスタムソースを名前順で返す。
func (r *PostgresSourceRepo) List(ctx context.Context) ([]model.NewsSource, error) {
	return r.list(ctx, psql.Select(sourceColumns...).
		From("news_sources").
		OrderBy("name"))
}

// FindByName は名前でソースを検索する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByName(ctx context.Context, name string) (*model.NewsSource, error) {
	return r.findOne(ctx, sq.Eq{"name": name})
}

// FindByFeedURL はフィードURLでソースを検索する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByFeedURL(ctx context.Context, feedURL string) (*model.NewsSource, error) {
	return r.findOne(ctx, sq.Eq{"feed_url": feedURL})
}

// Create はソースを作成する。一意制約違反はErrDuplicateSourceを返す。
func (r *PostgresSourceRepo) Create(ctx context.Context, s *model.NewsSource) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO news_sources (id, name, feed_url, site_url, category, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.Name, s.FeedURL, nullString(s.SiteURL), s.Category, s.IsActive, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateSource, s.Name)
		}
		return fmt.Errorf("ソースの作成に失敗しました: %w", err)
	}
	return nil
}

func (r *PostgresSourceRepo) findOne(ctx context.Context, where sq.Eq) (*model.NewsSource, error) {
	query, args, err := psql.Select(sourceColumns...).From("news_sources").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	s, err := scanSource(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	return s, nil
}

func (r *PostgresSourceRepo) list(ctx context.Context, b sq.SelectBuilder) ([]model.NewsSource, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []model.NewsSource
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("ソース行の読み取りに失敗しました: %w", err)
		}
		sources = append(sources, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ソース一覧の走査に失敗しました: %w", err)
	}
	return sources, nil
}

func scanSource(row rowScanner) (*model.NewsSource, error) {
	s := &model.NewsSource{}
	var siteURL sql.NullString
	if err := row.Scan(&s.ID, &s.Name, &s.FeedURL, &siteURL, &s.Category, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.SiteURL = nullStringValue(siteURL)
	return s, nil
}
