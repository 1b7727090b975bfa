package source

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/techfeed/internal/model"
)

// CustomSourceLister は有効なカスタムソースを返す。
type CustomSourceLister interface {
	ListActive(ctx context.Context) ([]model.NewsSource, error)
}

// RegistryConfig はRegistryの設定を表す。
type RegistryConfig struct {
	Catalog           Catalog
	NewsAPIKey        string
	NewsAPIBaseURL    string
	DevToBaseURL      string
	HackerNewsBaseURL string
	HNItemInterval    time.Duration
}

// Registry は取り込み実行ごとにソースの一覧を組み立てる。
// RSSフィードにはSSRF対策済みのRequesterを、固定エンドポイントのAPIには通常のRequesterを使う。
type Registry struct {
	cfg           RegistryConfig
	feedRequester *Requester
	apiRequester  *Requester
	guard         URLValidator
	cleaner       ContentCleaner
	custom        CustomSourceLister
	logger        *slog.Logger
}

// NewRegistry はRegistryを生成する。customがnilの場合はカスタムソースを読み込まない。
func NewRegistry(
	cfg RegistryConfig,
	feedRequester *Requester,
	apiRequester *Requester,
	guard URLValidator,
	cleaner ContentCleaner,
	custom CustomSourceLister,
	logger *slog.Logger,
) *Registry {
	if cfg.HNItemInterval > 0 && apiRequester.throttle != nil {
		apiRequester.throttle.SetInterval(hostOf(cfg.HackerNewsBaseURL), cfg.HNItemInterval)
	}
	return &Registry{
		cfg:           cfg,
		feedRequester: feedRequester,
		apiRequester:  apiRequester,
		guard:         guard,
		cleaner:       cleaner,
		custom:        custom,
		logger:        logger,
	}
}

// NewsAPIEnabled はNewsAPIフェーズが実行されるかを返す。
func (r *Registry) NewsAPIEnabled() bool {
	return r.cfg.NewsAPIKey != ""
}

// Catalog は組み込みカタログに有効なカスタムソースを加えたものを返す。
// カスタムソースの読み込みに失敗した場合は組み込みカタログのみを返す。
func (r *Registry) Catalog(ctx context.Context) Catalog {
	cat := r.cfg.Catalog
	if r.custom == nil {
		return cat
	}
	custom, err := r.custom.ListActive(ctx)
	if err != nil {
		r.logger.Warn("カスタムソースの読み込みに失敗しました。組み込みカタログのみで実行します",
			slog.String("error", err.Error()),
		)
		return cat
	}
	return cat.WithCustomFeeds(custom)
}

// Sources は今回の実行で使うソースを返す。NewsAPIは認証情報がある場合のみ含める。
func (r *Registry) Sources(ctx context.Context) []Source {
	cat := r.Catalog(ctx)

	sources := make([]Source, 0, len(cat.Feeds)+3)
	for _, f := range cat.Feeds {
		sources = append(sources, NewRSSSource(f, r.feedRequester, r.guard, r.cleaner, r.logger))
	}
	if r.NewsAPIEnabled() {
		sources = append(sources, NewNewsAPISource(NewsAPIConfig{
			BaseURL: r.cfg.NewsAPIBaseURL,
			APIKey:  r.cfg.NewsAPIKey,
			Domains: cat.NewsAPIDomains,
		}, r.apiRequester, r.cleaner, r.logger))
	}
	sources = append(sources,
		NewDevToSource(r.cfg.DevToBaseURL, cat.DevToTags, r.apiRequester, r.cleaner, r.logger),
		NewHackerNewsSource(r.cfg.HackerNewsBaseURL, r.apiRequester, r.logger),
	)
	return sources
}
