// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/techfeed/internal/model"
	"github.com/hitoshi/techfeed/internal/source"
)

// Collector はニュース取り込みのPrometheusメトリクスを収集する。
// ingest.Recorderを満たす。
type Collector struct {
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	articles       *prometheus.CounterVec
	writeOutcomes  *prometheus.CounterVec
	sourceFailures *prometheus.CounterVec
	fetchLatency   *prometheus.HistogramVec
	lastSuccess    prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "techfeed_ingest_runs_total",
			Help: "取り込み実行の合計数",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "techfeed_ingest_run_duration_seconds",
			Help:    "取り込み実行の所要時間（秒）",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		articles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "techfeed_ingest_articles_total",
			Help: "フェーズ別の取得記事数（予算適用後）",
		}, []string{"phase"}),
		writeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "techfeed_ingest_write_total",
			Help: "保存結果別の記事数",
		}, []string{"outcome"}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "techfeed_source_failures_total",
			Help: "ソース取得失敗の合計数",
		}, []string{"phase", "kind"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "techfeed_source_fetch_seconds",
			Help:    "ソース取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"phase"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "techfeed_ingest_last_success_timestamp_seconds",
			Help: "最後に成功した取り込みのUNIX時刻",
		}),
	}

	reg.MustRegister(
		c.runs,
		c.runDuration,
		c.articles,
		c.writeOutcomes,
		c.sourceFailures,
		c.fetchLatency,
		c.lastSuccess,
	)

	return c
}

// ObserveSourceFetch は1ソースの取得結果を記録する。
func (c *Collector) ObserveSourceFetch(_ string, phase string, _ int, duration time.Duration, err error) {
	c.fetchLatency.WithLabelValues(phase).Observe(duration.Seconds())
	if err != nil {
		c.sourceFailures.WithLabelValues(phase, source.ClassifyError(err)).Inc()
	}
}

// ObserveRun は1回の取り込み結果を記録する。
func (c *Collector) ObserveRun(summary model.Summary, duration time.Duration) {
	result := "success"
	if !summary.Success {
		result = "failure"
	}
	c.runs.WithLabelValues(result).Inc()
	c.runDuration.Observe(duration.Seconds())

	for phase, n := range summary.PhaseBreakdown {
		c.articles.WithLabelValues(phase).Add(float64(n))
	}
	c.writeOutcomes.WithLabelValues("created").Add(float64(summary.Created))
	c.writeOutcomes.WithLabelValues("updated").Add(float64(summary.Updated))
	c.writeOutcomes.WithLabelValues("skipped").Add(float64(summary.Skipped))

	if summary.Success {
		c.lastSuccess.SetToCurrentTime()
	}
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
