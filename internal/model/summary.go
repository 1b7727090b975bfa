package model

// 取り込みフェーズ名。サマリーのフェーズ別内訳のキーとして使う。
const (
	PhaseRSSFeeds   = "rss_feeds"
	PhaseNewsAPI    = "newsapi"
	PhaseDevTo      = "dev_to"
	PhaseHackerNews = "hacker_news"
)

// Summary は1回の取り込み実行の結果を表す。
type Summary struct {
	Success            bool
	Message            string
	SourcesProcessed   int
	PhasesRun          int
	TotalArticlesFound int
	UniqueArticles     int
	Created            int
	Updated            int
	Skipped            int
	PhaseBreakdown     map[string]int
	SourceBreakdown    map[string]int
	FailedSources      []string
}
