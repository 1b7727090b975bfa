package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/techfeed/internal/model"
	"github.com/hitoshi/techfeed/internal/repository"
)

// runSourceName は全ソース実行の記録に使うソース名。
const runSourceName = "all"

// Aggregate は1回の取り込みを実行する。
type Aggregate interface {
	Aggregate(ctx context.Context, maxArticles int) model.Summary
}

// CacheInvalidator はプレフィックス一致でキャッシュを破棄する。
type CacheInvalidator interface {
	DeletePrefix(prefix string) int
}

// RunService は取り込み実行を実行記録で包み、完了後に読み取りキャッシュを破棄する。
type RunService struct {
	aggregator  Aggregate
	logs        repository.IngestionLogRepository
	cache       CacheInvalidator
	cachePrefix string
	logger      *slog.Logger
	now         func() time.Time
}

// NewRunService はRunServiceを生成する。logsとcacheはnilでもよい。
func NewRunService(
	aggregator Aggregate,
	logs repository.IngestionLogRepository,
	cache CacheInvalidator,
	cachePrefix string,
	logger *slog.Logger,
) *RunService {
	return &RunService{
		aggregator:  aggregator,
		logs:        logs,
		cache:       cache,
		cachePrefix: cachePrefix,
		logger:      logger,
		now:         time.Now,
	}
}

// Run は取り込みを実行してSummaryと実行記録を返す。
// 実行記録の書き込みに失敗してもログに残すだけで、実行結果には影響させない。
func (s *RunService) Run(ctx context.Context, maxArticles int) (model.Summary, *model.IngestionLog) {
	started := s.now()
	entry := &model.IngestionLog{
		ID:         uuid.New().String(),
		SourceName: runSourceName,
		Status:     model.IngestionStatusRunning,
		StartedAt:  started,
	}

	// 呼び出し元のキャンセル後も記録は残す
	logCtx := context.WithoutCancel(ctx)

	if s.logs != nil {
		if err := s.logs.Create(logCtx, entry); err != nil {
			s.logger.Error("取り込み実行記録の作成に失敗しました",
				slog.String("ingestion_id", entry.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	summary := s.aggregator.Aggregate(ctx, maxArticles)

	completed := s.now()
	entry.CompletedAt = &completed
	entry.DurationSeconds = completed.Sub(started).Seconds()
	entry.ArticlesFound = summary.TotalArticlesFound
	entry.ArticlesProcessed = summary.UniqueArticles
	entry.ArticlesCreated = summary.Created
	entry.ArticlesUpdated = summary.Updated
	entry.ArticlesSkipped = summary.Skipped
	if summary.Success {
		entry.Status = model.IngestionStatusSuccess
	} else {
		entry.Status = model.IngestionStatusError
		entry.ErrorMessage = summary.Message
	}

	if s.logs != nil {
		if err := s.logs.Complete(logCtx, entry); err != nil {
			s.logger.Error("取り込み実行記録の更新に失敗しました",
				slog.String("ingestion_id", entry.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.cache != nil && (summary.Created > 0 || summary.Updated > 0) {
		n := s.cache.DeletePrefix(s.cachePrefix)
		s.logger.Debug("読み取りキャッシュを破棄しました",
			slog.String("prefix", s.cachePrefix),
			slog.Int("entries", n),
		)
	}

	return summary, entry
}
