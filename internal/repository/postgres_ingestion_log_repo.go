package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/techfeed/internal/model"
)

const ingestionLogColumns = `id, source_name, status, articles_found, articles_processed,
	articles_created, articles_updated, articles_skipped, error_message,
	started_at, completed_at, duration_seconds`

// PostgresIngestionLogRepo はPostgreSQLを使用した取り込み実行記録リポジトリ。
type PostgresIngestionLogRepo struct {
	db *sql.DB
}

var _ IngestionLogRepository = (*PostgresIngestionLogRepo)(nil)

// NewPostgresIngestionLogRepo はPostgresIngestionLogRepoを生成する。
func NewPostgresIngestionLogRepo(db *sql.DB) *PostgresIngestionLogRepo {
	return &PostgresIngestionLogRepo{db: db}
}

// Create は実行開始時の記録を作成する。
func (r *PostgresIngestionLogRepo) Create(ctx context.Context, l *model.IngestionLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ingestion_logs (id, source_name, status, started_at)
		 VALUES ($1, $2, $3, $4)`,
		l.ID, l.SourceName, string(l.Status), l.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("取り込み実行記録の作成に失敗しました: %w", err)
	}
	return nil
}

// Complete は実行結果で記録を更新する。
func (r *PostgresIngestionLogRepo) Complete(ctx context.Context, l *model.IngestionLog) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE ingestion_logs SET
		    status = $2, articles_found = $3, articles_processed = $4,
		    articles_created = $5, articles_updated = $6, articles_skipped = $7,
		    error_message = $8, completed_at = $9, duration_seconds = $10
		 WHERE id = $1`,
		l.ID, string(l.Status), l.ArticlesFound, l.ArticlesProcessed,
		l.ArticlesCreated, l.ArticlesUpdated, l.ArticlesSkipped,
		nullString(l.ErrorMessage), l.CompletedAt, l.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("取り込み実行記録の更新に失敗しました: %w", err)
	}
	return nil
}

// ListRecent は開始日時の降順で最大limit件を返す。
func (r *PostgresIngestionLogRepo) ListRecent(ctx context.Context, limit int) ([]model.IngestionLog, error) {
	if limit < 1 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ingestionLogColumns+`
		 FROM ingestion_logs
		 ORDER BY started_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("取り込み実行記録の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	logs := []model.IngestionLog{}
	for rows.Next() {
		l, err := scanIngestionLog(rows)
		if err != nil {
			return nil, fmt.Errorf("取り込み実行記録の読み取りに失敗しました: %w", err)
		}
		logs = append(logs, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("取り込み実行記録の走査に失敗しました: %w", err)
	}
	return logs, nil
}

// LastSuccess は最後に成功した実行の記録を返す。存在しない場合はnilを返す。
func (r *PostgresIngestionLogRepo) LastSuccess(ctx context.Context) (*model.IngestionLog, error) {
	l, err := scanIngestionLog(r.db.QueryRowContext(ctx,
		`SELECT `+ingestionLogColumns+`
		 FROM ingestion_logs
		 WHERE status = $1
		 ORDER BY started_at DESC
		 LIMIT 1`,
		string(model.IngestionStatusSuccess),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("最終成功記録の取得に失敗しました: %w", err)
	}
	return l, nil
}

// DeleteOlderThan はbefore以前に開始された完了済みの記録を削除し、削除件数を返す。
func (r *PostgresIngestionLogRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM ingestion_logs WHERE started_at < $1 AND status <> $2`,
		before, string(model.IngestionStatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("古い取り込み実行記録の削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

func scanIngestionLog(row rowScanner) (*model.IngestionLog, error) {
	l := &model.IngestionLog{}
	var status string
	var errorMessage sql.NullString
	var completedAt sql.NullTime
	var duration sql.NullFloat64

	if err := row.Scan(
		&l.ID, &l.SourceName, &status, &l.ArticlesFound, &l.ArticlesProcessed,
		&l.ArticlesCreated, &l.ArticlesUpdated, &l.ArticlesSkipped, &errorMessage,
		&l.StartedAt, &completedAt, &duration,
	); err != nil {
		return nil, err
	}

	l.Status = model.IngestionStatus(status)
	l.ErrorMessage = nullStringValue(errorMessage)
	if completedAt.Valid {
		l.CompletedAt = &completedAt.Time
	}
	l.DurationSeconds = duration.Float64
	return l, nil
}
