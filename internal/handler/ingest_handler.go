package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/techfeed/internal/middleware"
	"github.com/hitoshi/techfeed/internal/model"
)

const (
	defaultIngestMaxArticles = 200
	maxIngestMaxArticles     = 1000
)

// IngestRunner は1回の取り込みを実行する。
type IngestRunner interface {
	Run(ctx context.Context, maxArticles int) (model.Summary, *model.IngestionLog)
}

// IngestHandler は手動取り込みのHTTPハンドラ。
type IngestHandler struct {
	runner             IngestRunner
	defaultMaxArticles int
	logger             *slog.Logger
}

// NewIngestHandler はIngestHandlerを生成する。defaultMaxArticlesが0以下の場合は200件とする。
func NewIngestHandler(runner IngestRunner, defaultMaxArticles int, logger *slog.Logger) *IngestHandler {
	if defaultMaxArticles <= 0 || defaultMaxArticles > maxIngestMaxArticles {
		defaultMaxArticles = defaultIngestMaxArticles
	}
	return &IngestHandler{
		runner:             runner,
		defaultMaxArticles: defaultMaxArticles,
		logger:             logger,
	}
}

// Ingest は POST /api/news/ingest を処理する。
// 取り込み自体の失敗はステータス200の success=false として返す。
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	maxArticles, err := intParam(r.URL.Query(), "max_articles", h.defaultMaxArticles, 1, maxIngestMaxArticles)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	subject, _ := middleware.AdminSubjectFromContext(r.Context())
	h.logger.Info("手動取り込みを開始します",
		slog.String("admin", subject),
		slog.Int("max_articles", maxArticles),
	)

	summary, entry := h.runner.Run(r.Context(), maxArticles)

	resp := ingestResponse{
		Success: summary.Success,
		Message: summary.Message,
		Data:    toSummaryResponse(summary),
	}
	if entry != nil {
		l := toIngestionLogResponse(*entry)
		resp.Log = &l
	}
	writeJSON(w, http.StatusOK, resp)
}
