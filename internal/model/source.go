package model

import "time"

// NewsSource は管理者が登録したカスタムRSSソースを表す。
// 有効なソースは毎回の取り込みでRSSフェーズに加えられる。
type NewsSource struct {
	ID        string
	Name      string
	FeedURL   string
	SiteURL   string
	Category  string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IngestionStatus は取り込み実行記録の状態を表す。
type IngestionStatus string

const (
	// IngestionStatusRunning は実行中。
	IngestionStatusRunning IngestionStatus = "running"
	// IngestionStatusSuccess は正常終了。
	IngestionStatusSuccess IngestionStatus = "success"
	// IngestionStatusError は失敗。
	IngestionStatusError IngestionStatus = "error"
)

// IngestionLog は1回の取り込み実行の記録を表す。
type IngestionLog struct {
	ID                string
	SourceName        string
	Status            IngestionStatus
	ArticlesFound     int
	ArticlesProcessed int
	ArticlesCreated   int
	ArticlesUpdated   int
	ArticlesSkipped   int
	ErrorMessage      string
	StartedAt         time.Time
	CompletedAt       *time.Time
	DurationSeconds   float64
}
