package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockPruner はLogPrunerのモック実装。
type mockPruner struct {
	mu      sync.Mutex
	calls   int
	before  time.Time
	deleted int64
	err     error
}

func (m *mockPruner) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.before = before
	return m.deleted, m.err
}

func (m *mockPruner) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// findLogValue はJSONログの各行からkeyの値を探す。
func findLogValue(buf *bytes.Buffer, key string) (any, bool) {
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if v, ok := entry[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func TestNewCleanupJob_RetentionDays(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	if job := NewCleanupJob(&mockPruner{}, 0, logger); job.RetentionDays != DefaultRetentionDays {
		t.Errorf("RetentionDays = %d, want %d", job.RetentionDays, DefaultRetentionDays)
	}
	if job := NewCleanupJob(&mockPruner{}, 7, logger); job.RetentionDays != 7 {
		t.Errorf("RetentionDays = %d, want 7", job.RetentionDays)
	}
}

func TestCleanupJob_Run_DeletesBeforeRetentionBoundary(t *testing.T) {
	var buf bytes.Buffer
	pruner := &mockPruner{deleted: 42}
	job := NewCleanupJob(pruner, 30, newTestLogger(&buf))
	now := time.Date(2026, 10, 16, 4, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if pruner.callCount() != 1 {
		t.Fatalf("DeleteOlderThan calls = %d, want 1", pruner.callCount())
	}
	if want := time.Date(2026, 9, 16, 4, 0, 0, 0, time.UTC); !pruner.before.Equal(want) {
		t.Errorf("before = %v, want %v", pruner.before, want)
	}
	if v, ok := findLogValue(&buf, "deleted_count"); !ok || v != float64(42) {
		t.Errorf("ログに deleted_count=42 が記録されていない。ログ出力: %s", buf.String())
	}
	if v, ok := findLogValue(&buf, "retention_days"); !ok || v != float64(30) {
		t.Errorf("ログに retention_days=30 が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_ReturnsErrorOnDBFailure(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPruner{err: sql.ErrConnDone}, 30, newTestLogger(&buf))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() がエラーを返さなかった")
	}
	if !errors.Is(err, sql.ErrConnDone) {
		t.Errorf("errors.Is(err, sql.ErrConnDone) = false: %v", err)
	}
	if v, ok := findLogValue(&buf, "level"); !ok || v != "ERROR" {
		t.Errorf("ERRORレベルのログが記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_IsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	pruner := &mockPruner{deleted: 0}
	job := NewCleanupJob(pruner, 30, newTestLogger(&buf))

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("Run() %d回目がエラーを返した: %v", i+1, err)
		}
	}
	if pruner.callCount() != 2 {
		t.Errorf("DeleteOlderThan calls = %d, want 2", pruner.callCount())
	}
}

func TestCleanupJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	pruner := &mockPruner{}
	job := NewCleanupJob(pruner, 30, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for pruner.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start がキャンセル後に終了しなかった")
	}
	if pruner.callCount() != 1 {
		t.Errorf("DeleteOlderThan calls = %d, want 1 (immediate run)", pruner.callCount())
	}
}
