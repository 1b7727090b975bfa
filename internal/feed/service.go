package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/techfeed/internal/model"
	"github.com/hitoshi/techfeed/internal/repository"
)

// defaultCategory は登録時にカテゴリが指定されなかった場合の値。
const defaultCategory = "tech"

// maxNameRunes はソース名の最大文字数。
const maxNameRunes = 100

// Detector はフィード検出のインターフェース。
// テスタビリティのためFeedDetectorを抽象化する。
type Detector interface {
	Detect(ctx context.Context, inputURL string) (*Detection, error)
}

var _ Detector = (*FeedDetector)(nil)

// SourceService はカスタムRSSソースの登録と一覧を提供する。
// 検出 → 重複チェック → 保存のフローを統括する。
type SourceService struct {
	detector Detector
	repo     repository.NewsSourceRepository
	logger   *slog.Logger
	now      func() time.Time
}

// NewSourceService はSourceServiceを生成する。
func NewSourceService(detector Detector, repo repository.NewsSourceRepository, logger *slog.Logger) *SourceService {
	return &SourceService{
		detector: detector,
		repo:     repo,
		logger:   logger,
		now:      time.Now,
	}
}

// Register はURLからフィードを検出し、カスタムソースとして登録する。
// nameが空の場合はフィードのタイトルを、categoryが空の場合は"tech"を使う。
// 同名または同一フィードURLのソースが存在する場合はDUPLICATE_SOURCEを返す。
func (s *SourceService) Register(ctx context.Context, name, inputURL, category string) (*model.NewsSource, error) {
	det, err := s.detector.Detect(ctx, inputURL)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = det.Title
	}
	if name == "" {
		name = hostOf(det.FeedURL)
	}
	if len([]rune(name)) > maxNameRunes {
		return nil, model.NewInvalidParameterError("name", fmt.Sprintf("%d文字以内で指定してください", maxNameRunes))
	}

	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		category = defaultCategory
	}

	existing, err := s.repo.FindByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("ソースの確認に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateSourceError(name)
	}
	existing, err = s.repo.FindByFeedURL(ctx, det.FeedURL)
	if err != nil {
		return nil, fmt.Errorf("ソースの確認に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateSourceError(existing.Name)
	}

	now := s.now()
	src := &model.NewsSource{
		ID:        uuid.New().String(),
		Name:      name,
		FeedURL:   det.FeedURL,
		SiteURL:   det.SiteURL,
		Category:  category,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, src); err != nil {
		// 確認と作成の間に別リクエストが登録した場合
		if errors.Is(err, repository.ErrDuplicateSource) {
			return nil, model.NewDuplicateSourceError(name)
		}
		return nil, fmt.Errorf("ソースの保存に失敗しました: %w", err)
	}

	s.logger.Info("カスタムソースを登録しました",
		slog.String("source_id", src.ID),
		slog.String("name", src.Name),
		slog.String("feed_url", src.FeedURL),
		slog.String("category", src.Category),
	)
	return src, nil
}

// List は登録済みのカスタムソースを名前順で返す。
func (s *SourceService) List(ctx context.Context) ([]model.NewsSource, error) {
	sources, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}
	return sources, nil
}
