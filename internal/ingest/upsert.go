package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/hitoshi/techfeed/internal/model"
	"github.com/hitoshi/techfeed/internal/repository"
)

// maxSlugRunes はスラッグのタイトル部分の最大文字数。
const maxSlugRunes = 200

// WriteResult はUPSERTの結果件数を表す。
type WriteResult struct {
	Created int
	Updated int
	Skipped int
}

// UpsertWriter は記事をcanonical URLをキーに1トランザクションでUPSERTする。
type UpsertWriter struct {
	store  repository.ArticleStore
	logger *slog.Logger
	now    func() time.Time
}

// NewUpsertWriter はUpsertWriterを生成する。
func NewUpsertWriter(store repository.ArticleStore, logger *slog.Logger) *UpsertWriter {
	return &UpsertWriter{store: store, logger: logger, now: time.Now}
}

// Write は記事を1件ずつ処理する。
//   - 未登録: 作成
//   - 登録済みで候補の公開日時が厳密に新しい: 更新
//   - それ以外: スキップ
//
// 1件の失敗はスキップとして数え、バッチは継続する。
// コミットに失敗した場合はロールバックし、作成数と更新数を0にしてエラーを返す。
func (w *UpsertWriter) Write(ctx context.Context, articles []model.Article) (WriteResult, error) {
	var res WriteResult
	if len(articles) == 0 {
		return res, nil
	}

	tx, err := w.store.Begin(ctx)
	if err != nil {
		return WriteResult{Skipped: len(articles)}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := w.now().UTC()

	for i := range articles {
		candidate := articles[i]
		outcome, err := w.writeOne(ctx, tx, &candidate, now)
		if err != nil {
			w.logger.Warn("記事の書き込みに失敗しました。スキップします",
				slog.String("canonical_url", candidate.CanonicalURL),
				slog.String("source", candidate.SourceName),
				slog.String("error", err.Error()),
			)
			res.Skipped++
			continue
		}
		switch outcome {
		case outcomeCreated:
			res.Created++
		case outcomeUpdated:
			res.Updated++
		default:
			res.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		w.logger.Error("取り込みバッチのコミットに失敗しました",
			slog.Int("articles", len(articles)),
			slog.String("error", err.Error()),
		)
		return WriteResult{Skipped: len(articles)}, fmt.Errorf("failed to commit batch: %w", err)
	}

	w.logger.Info("記事UPSERT完了",
		slog.Int("created", res.Created),
		slog.Int("updated", res.Updated),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}

type writeOutcome int

const (
	outcomeSkipped writeOutcome = iota
	outcomeCreated
	outcomeUpdated
)

var errNoCanonicalURL = errors.New("canonical url is empty")

func (w *UpsertWriter) writeOne(ctx context.Context, tx repository.ArticleTx, c *model.Article, now time.Time) (writeOutcome, error) {
	if strings.TrimSpace(c.CanonicalURL) == "" {
		return outcomeSkipped, errNoCanonicalURL
	}
	if c.PublishedAt.IsZero() {
		c.PublishedAt = now
	}
	// TIMESTAMPTZの精度に揃えないと再実行で常に「新しい」と判定される
	c.PublishedAt = c.PublishedAt.UTC().Truncate(time.Microsecond)

	existing, err := tx.FindByCanonicalURL(ctx, c.CanonicalURL)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("lookup: %w", err)
	}

	if existing == nil {
		c.ID = uuid.New().String()
		c.Slug = buildSlug(c.Title, c.CanonicalURL)
		c.IsPublished = true
		c.CreatedAt = now
		c.UpdatedAt = now
		if err := tx.Insert(ctx, c); err != nil {
			return outcomeSkipped, fmt.Errorf("insert: %w", err)
		}
		return outcomeCreated, nil
	}

	if !c.PublishedAt.After(existing.PublishedAt) {
		return outcomeSkipped, nil
	}

	mergeArticle(existing, c, now)
	if err := tx.Update(ctx, existing); err != nil {
		return outcomeSkipped, fmt.Errorf("update: %w", err)
	}
	return outcomeUpdated, nil
}

// mergeArticle は候補の値で既存記事を上書きする。
// 候補側が空のフィールドは既存値を保持する。ID、スラッグ、canonical URL、作成日時、公開フラグは変更しない。
func mergeArticle(existing *model.Article, c *model.Article, now time.Time) {
	overwrite := func(dst *string, src string) {
		if strings.TrimSpace(src) != "" {
			*dst = src
		}
	}

	overwrite(&existing.Title, c.Title)
	overwrite(&existing.Excerpt, c.Excerpt)
	overwrite(&existing.ContentHTML, c.ContentHTML)
	overwrite(&existing.CoverImageURL, c.CoverImageURL)
	overwrite(&existing.SourceName, c.SourceName)
	overwrite(&existing.SourceURL, c.SourceURL)
	overwrite(&existing.Author, c.Author)
	overwrite(&existing.OGTitle, c.OGTitle)
	overwrite(&existing.OGDescription, c.OGDescription)
	overwrite(&existing.OGImage, c.OGImage)
	if len(c.Tags) > 0 {
		existing.Tags = append([]string(nil), c.Tags...)
	}
	existing.PublishedAt = c.PublishedAt
	existing.IsFeatured = c.IsFeatured
	existing.UpdatedAt = now
}

// buildSlug はタイトルから小文字のスラッグを作り、URLの短いハッシュを付けて一意にする。
// 記号は除去し、空白とハイフンの連続は1つのハイフンにまとめる。
func buildSlug(title, canonicalURL string) string {
	var b strings.Builder
	pendingHyphen := false
	runes := 0
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			if pendingHyphen && b.Len() > 0 {
				b.WriteRune('-')
				runes++
			}
			pendingHyphen = false
			b.WriteRune(r)
			runes++
		case unicode.IsSpace(r) || r == '-':
			pendingHyphen = true
		}
		if runes >= maxSlugRunes {
			break
		}
	}

	sum := sha256.Sum256([]byte(canonicalURL))
	suffix := hex.EncodeToString(sum[:])[:8]

	base := strings.Trim(b.String(), "-")
	if base == "" {
		return "article-" + suffix
	}
	return base + "-" + suffix
}
