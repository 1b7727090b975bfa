package source

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/techfeed/internal/model"
)

// TestFinalize_FitsColumns は長い媒体名がカラム長に収まり、長い著者名はそのまま残ることを検証する。
func TestFinalize_FitsColumns(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	longAuthor := strings.Repeat("著", 400)
	a := model.Article{
		Title:        "Story",
		CanonicalURL: "https://x.com/1",
		SourceName:   strings.Repeat("n", 300),
		Author:       " " + longAuthor + " ",
	}

	finalize(&a, now)

	if n := utf8.RuneCountInString(a.SourceName); n != maxSourceNameRunes {
		t.Errorf("SourceName runes = %d, want %d", n, maxSourceNameRunes)
	}
	if !strings.HasSuffix(a.SourceName, "...") {
		t.Errorf("SourceName = %q, want ellipsis suffix", a.SourceName)
	}
	if a.Author != longAuthor {
		t.Errorf("Author runes = %d, want %d (TEXTカラムのため切り詰めない)", utf8.RuneCountInString(a.Author), 400)
	}
	if !a.PublishedAt.Equal(now) {
		t.Errorf("PublishedAt = %v, want %v", a.PublishedAt, now)
	}
}
