package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/hitoshi/techfeed/internal/model"
)

// findMetric は指定ラベルを持つメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				return m
			}
		}
	}
	return nil
}

func matchLabels(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestObserveRun_Success は成功した実行の内訳が記録されることを検証する。
func TestObserveRun_Success(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveRun(model.Summary{
		Success:        true,
		Created:        3,
		Updated:        1,
		Skipped:        2,
		PhaseBreakdown: map[string]int{model.PhaseRSSFeeds: 4, model.PhaseDevTo: 2},
	}, 2*time.Second)

	if m := findMetric(t, reg, "techfeed_ingest_runs_total", map[string]string{"result": "success"}); m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("runs_total{result=success} = %v, want 1", m)
	}
	if m := findMetric(t, reg, "techfeed_ingest_articles_total", map[string]string{"phase": model.PhaseRSSFeeds}); m == nil || m.GetCounter().GetValue() != 4 {
		t.Errorf("articles_total{phase=rss_feeds} = %v, want 4", m)
	}
	if m := findMetric(t, reg, "techfeed_ingest_write_total", map[string]string{"outcome": "skipped"}); m == nil || m.GetCounter().GetValue() != 2 {
		t.Errorf("write_total{outcome=skipped} = %v, want 2", m)
	}
	if m := findMetric(t, reg, "techfeed_ingest_last_success_timestamp_seconds", nil); m == nil || m.GetGauge().GetValue() == 0 {
		t.Error("last_success gauge should be set")
	}
}

// TestObserveRun_Failure は失敗した実行が成功時刻を更新しないことを検証する。
func TestObserveRun_Failure(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveRun(model.Summary{Success: false}, time.Second)

	if m := findMetric(t, reg, "techfeed_ingest_runs_total", map[string]string{"result": "failure"}); m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("runs_total{result=failure} = %v, want 1", m)
	}
	if m := findMetric(t, reg, "techfeed_ingest_last_success_timestamp_seconds", nil); m != nil && m.GetGauge().GetValue() != 0 {
		t.Error("last_success gauge should stay zero after a failed run")
	}
}

// TestObserveSourceFetch_ClassifiesFailures は失敗種別ごとにカウントされることを検証する。
func TestObserveSourceFetch_ClassifiesFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveSourceFetch("Feed", model.PhaseRSSFeeds, 0, time.Second, context.DeadlineExceeded)
	c.ObserveSourceFetch("Feed", model.PhaseRSSFeeds, 0, time.Second, context.DeadlineExceeded)
	c.ObserveSourceFetch("Dev.to", model.PhaseDevTo, 5, 200*time.Millisecond, nil)
	c.ObserveSourceFetch("HN", model.PhaseHackerNews, 0, time.Second, errors.New("dial tcp: connection refused"))

	if m := findMetric(t, reg, "techfeed_source_failures_total", map[string]string{"phase": model.PhaseRSSFeeds, "kind": "timeout"}); m == nil || m.GetCounter().GetValue() != 2 {
		t.Errorf("failures{rss_feeds,timeout} = %v, want 2", m)
	}
	if m := findMetric(t, reg, "techfeed_source_failures_total", map[string]string{"phase": model.PhaseDevTo}); m != nil {
		t.Error("successful fetch should not be counted as a failure")
	}
	if m := findMetric(t, reg, "techfeed_source_fetch_seconds", map[string]string{"phase": model.PhaseDevTo}); m == nil || m.GetHistogram().GetSampleCount() != 1 {
		t.Errorf("fetch_seconds{dev_to} sample count = %v, want 1", m)
	}
}
