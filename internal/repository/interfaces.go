// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/techfeed/internal/model"
)

// ArticleStore は記事の一括書き込み用トランザクションを開始する。
type ArticleStore interface {
	// Begin はトランザクションを開始する。
	Begin(ctx context.Context) (ArticleTx, error)
}

// ArticleTx は1回の取り込みバッチのトランザクション。
// Insert/Updateのエラーはその記事1件のみの失敗として扱えること。
type ArticleTx interface {
	// FindByCanonicalURL はcanonical URLで記事を検索する。見つからない場合はnilを返す。
	FindByCanonicalURL(ctx context.Context, canonicalURL string) (*model.Article, error)

	// Insert は記事を新規作成する。
	Insert(ctx context.Context, article *model.Article) error

	// Update は既存記事を更新する。
	Update(ctx context.Context, article *model.Article) error

	// Commit はトランザクションをコミットする。
	Commit() error

	// Rollback はトランザクションをロールバックする。コミット済みの場合は何もしない。
	Rollback() error
}

// ArticleReader は保存済み記事の読み取り用インターフェース。
type ArticleReader interface {
	// List はフィルタとページングを適用した記事一覧を返す。
	List(ctx context.Context, filter model.ArticleFilter) (*model.ArticlePage, error)

	// FindBySlug はスラッグで記事を検索する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Article, error)

	// Trending はsince以降の記事を注目記事優先、公開日時の降順で返す。
	Trending(ctx context.Context, since time.Time, limit int) ([]model.Article, error)

	// Stats は記事の統計情報を返す。
	Stats(ctx context.Context, now time.Time) (*model.ArticleStats, error)
}

// NewsSourceRepository はカスタムソースの永続化インターフェース。
type NewsSourceRepository interface {
	// ListActive は有効なカスタムソースを返す。
	ListActive(ctx context.Context) ([]model.NewsSource, error)

	// List は全カスタムソースを名前順で返す。
	List(ctx context.Context) ([]model.NewsSource, error)

	// FindByName は名前でソースを検索する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.NewsSource, error)

	// FindByFeedURL はフィードURLでソースを検索する。見つからない場合はnilを返す。
	FindByFeedURL(ctx context.Context, feedURL string) (*model.NewsSource, error)

	// Create はソースを作成する。
	Create(ctx context.Context, source *model.NewsSource) error
}

// IngestionLogRepository は取り込み実行記録の永続化インターフェース。
type IngestionLogRepository interface {
	// Create は実行開始時の記録を作成する。
	Create(ctx context.Context, log *model.IngestionLog) error

	// Complete は実行結果で記録を更新する。
	Complete(ctx context.Context, log *model.IngestionLog) error

	// ListRecent は開始日時の降順で最大limit件を返す。
	ListRecent(ctx context.Context, limit int) ([]model.IngestionLog, error)

	// LastSuccess は最後に成功した実行の記録を返す。存在しない場合はnilを返す。
	LastSuccess(ctx context.Context) (*model.IngestionLog, error)
}
