package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/techfeed/internal/model"
)

// Runner は取り込みを1回実行する。
type Runner interface {
	Run(ctx context.Context, maxArticles int) (model.Summary, *model.IngestionLog)
}

// Scheduler は一定間隔で取り込みを実行する。
// 前回の実行が終わるまで次の実行は始めない。
type Scheduler struct {
	runner      Runner
	logger      *slog.Logger
	maxArticles int
}

// NewScheduler はSchedulerを生成する。maxArticlesが0以下の場合は200を使う。
func NewScheduler(runner Runner, logger *slog.Logger, maxArticles int) *Scheduler {
	if maxArticles <= 0 {
		maxArticles = 200
	}
	return &Scheduler{
		runner:      runner,
		logger:      logger,
		maxArticles: maxArticles,
	}
}

// Start はintervalごとに取り込みを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("取り込みスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_articles", s.maxArticles),
	)

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("取り込みスケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は取り込みを1回実行してSummaryを返す。
func (s *Scheduler) RunOnce(ctx context.Context) model.Summary {
	summary, entry := s.runner.Run(ctx, s.maxArticles)

	attrs := []any{
		slog.Bool("success", summary.Success),
		slog.Int("created", summary.Created),
		slog.Int("updated", summary.Updated),
		slog.Int("skipped", summary.Skipped),
	}
	if entry != nil {
		attrs = append(attrs, slog.String("ingestion_id", entry.ID))
	}

	if summary.Success {
		s.logger.Info("定期取り込みが完了しました", attrs...)
	} else {
		s.logger.Warn("定期取り込みが失敗しました", append(attrs, slog.String("message", summary.Message))...)
	}
	return summary
}
