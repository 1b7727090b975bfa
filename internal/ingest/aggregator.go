package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/techfeed/internal/model"
	"github.com/hitoshi/techfeed/internal/source"
)

// phaseOrder はフェーズの連結順序。
var phaseOrder = []string{
	model.PhaseRSSFeeds,
	model.PhaseNewsAPI,
	model.PhaseDevTo,
	model.PhaseHackerNews,
}

// SourceProvider は実行ごとのソース一覧を返す。
type SourceProvider interface {
	Sources(ctx context.Context) []source.Source
}

// ArticleWriter は重複排除後の記事を永続化する。
type ArticleWriter interface {
	Write(ctx context.Context, articles []model.Article) (WriteResult, error)
}

// Recorder は取り込みの計測値を記録する。
type Recorder interface {
	ObserveSourceFetch(sourceName, phase string, articles int, duration time.Duration, err error)
	ObserveRun(summary model.Summary, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSourceFetch(string, string, int, time.Duration, error) {}
func (nopRecorder) ObserveRun(model.Summary, time.Duration)                      {}

// Aggregator は全ソースを並行に取得し、重複排除とUPSERTを行って結果をまとめる。
type Aggregator struct {
	provider      SourceProvider
	writer        ArticleWriter
	recorder      Recorder
	logger        *slog.Logger
	maxConcurrent int
	sourceTimeout time.Duration
}

// NewAggregator はAggregatorを生成する。
// maxConcurrentが0以下の場合は8、sourceTimeoutが0以下の場合は2分を使う。
func NewAggregator(
	provider SourceProvider,
	writer ArticleWriter,
	recorder Recorder,
	logger *slog.Logger,
	maxConcurrent int,
	sourceTimeout time.Duration,
) *Aggregator {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	if sourceTimeout <= 0 {
		sourceTimeout = 2 * time.Minute
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Aggregator{
		provider:      provider,
		writer:        writer,
		recorder:      recorder,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		sourceTimeout: sourceTimeout,
	}
}

// sourceResult は1ソースの取得結果。
type sourceResult struct {
	source   source.Source
	articles []model.Article
	err      error
}

// Aggregate は1回の取り込みを実行してSummaryを返す。
// maxArticlesは実行されるフェーズ数で均等に分割される。
// 個々のソースの失敗は0件として扱い、実行全体は継続する。
func (a *Aggregator) Aggregate(ctx context.Context, maxArticles int) model.Summary {
	start := time.Now()
	summary := model.Summary{
		PhaseBreakdown:  make(map[string]int),
		SourceBreakdown: make(map[string]int),
	}
	defer func() {
		a.recorder.ObserveRun(summary, time.Since(start))
	}()

	sources := a.provider.Sources(ctx)
	phases := activePhases(sources)
	summary.SourcesProcessed = len(sources)
	summary.PhasesRun = len(phases)
	if len(phases) == 0 {
		summary.Message = "取り込み対象のソースがありません"
		return summary
	}

	budget := max(maxArticles/len(phases), 1)

	a.logger.Info("ニュース取り込みを開始します",
		slog.Int("sources", len(sources)),
		slog.Int("phases", len(phases)),
		slog.Int("max_articles", maxArticles),
		slog.Int("budget_per_phase", budget),
	)

	results := a.fetchAll(ctx, sources, budget)

	byPhase := make(map[string][]model.Article, len(phases))
	for _, r := range results {
		name := r.source.Name()
		summary.SourceBreakdown[name] += len(r.articles)
		if r.err != nil {
			summary.FailedSources = append(summary.FailedSources, name)
			continue
		}
		byPhase[r.source.Phase()] = append(byPhase[r.source.Phase()], r.articles...)
	}

	var all []model.Article
	for _, phase := range phases {
		items := byPhase[phase]
		if phase == model.PhaseRSSFeeds {
			// 複数フィードを混ぜて新しい順に並べ、予算分だけ残す
			sort.SliceStable(items, func(i, j int) bool {
				return items[i].PublishedAt.After(items[j].PublishedAt)
			})
		}
		if len(items) > budget {
			items = items[:budget]
		}
		summary.PhaseBreakdown[phase] = len(items)
		all = append(all, items...)
	}

	summary.TotalArticlesFound = len(all)
	if len(all) == 0 {
		summary.Message = "いずれのソースからも記事を取得できませんでした"
		a.logger.Warn("取り込み結果が0件でした",
			slog.Int("failed_sources", len(summary.FailedSources)),
		)
		return summary
	}

	unique := Deduplicate(all)
	summary.UniqueArticles = len(unique)

	res, err := a.writer.Write(ctx, unique)
	summary.Created = res.Created
	summary.Updated = res.Updated
	summary.Skipped = res.Skipped
	if err != nil {
		summary.Message = fmt.Sprintf("記事の保存に失敗しました: %v", err)
		a.logger.Error("取り込み結果の保存に失敗しました",
			slog.Int("unique_articles", len(unique)),
			slog.String("error", err.Error()),
		)
		return summary
	}

	summary.Success = true
	summary.Message = fmt.Sprintf("%dフェーズ%dソースから%d件を処理しました", len(phases), len(sources), len(unique))
	a.logger.Info("ニュース取り込みが完了しました",
		slog.Int("total_found", summary.TotalArticlesFound),
		slog.Int("unique", summary.UniqueArticles),
		slog.Int("created", summary.Created),
		slog.Int("updated", summary.Updated),
		slog.Int("skipped", summary.Skipped),
		slog.String("failed_sources", strings.Join(summary.FailedSources, ",")),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return summary
}

// fetchAll は各ソースを1タスクとして並行に実行し、全タスクの完了を待つ。
// 結果はソースの入力順に並ぶ。
func (a *Aggregator) fetchAll(ctx context.Context, sources []source.Source, budget int) []sourceResult {
	results := make([]sourceResult, len(sources))

	var g errgroup.Group
	g.SetLimit(a.maxConcurrent)

	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			results[i] = a.fetchOne(ctx, src, budget)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// fetchOne は1ソースを独自のタイムアウトで取得する。エラーとpanicはここで止める。
func (a *Aggregator) fetchOne(ctx context.Context, src source.Source, budget int) (res sourceResult) {
	res.source = src
	start := time.Now()

	tctx, cancel := context.WithTimeout(ctx, a.sourceTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			res.articles = nil
			res.err = fmt.Errorf("panic: %v", rec)
			a.logger.Error("ソース取得中にpanicが発生しました",
				slog.String("source", src.Name()),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
		a.recorder.ObserveSourceFetch(src.Name(), src.Phase(), len(res.articles), time.Since(start), res.err)
	}()

	articles, err := src.Fetch(tctx, budget)
	if err != nil {
		a.logger.Warn("ソースの取得に失敗しました",
			slog.String("source", src.Name()),
			slog.String("phase", src.Phase()),
			slog.String("kind", source.ClassifyError(err)),
			slog.String("error", err.Error()),
		)
		res.err = err
		return res
	}

	res.articles = dropUntitled(articles)
	a.logger.Debug("ソースの取得が完了しました",
		slog.String("source", src.Name()),
		slog.Int("articles", len(res.articles)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return res
}

// dropUntitled はタイトルが空の記事候補を取り除く。
func dropUntitled(articles []model.Article) []model.Article {
	out := articles[:0:0]
	for _, a := range articles {
		if strings.TrimSpace(a.Title) == "" {
			continue
		}
		out = append(out, a)
	}
	return out
}

// activePhases はソース一覧に含まれるフェーズを連結順序に従って返す。
func activePhases(sources []source.Source) []string {
	present := make(map[string]bool)
	for _, s := range sources {
		present[s.Phase()] = true
	}
	var phases []string
	for _, p := range phaseOrder {
		if present[p] {
			phases = append(phases, p)
		}
	}
	return phases
}
