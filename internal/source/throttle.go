package source

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostThrottle はホストごとにリクエスト間隔を空ける。
// 各ホストに対して最初のリクエストは即時に通し、以降は interval ごとに1件ずつ通す。
type HostThrottle struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	intervals map[string]time.Duration
	interval  time.Duration
}

// NewHostThrottle はデフォルト間隔を持つHostThrottleを生成する。
func NewHostThrottle(interval time.Duration) *HostThrottle {
	return &HostThrottle{
		limiters:  make(map[string]*rate.Limiter),
		intervals: make(map[string]time.Duration),
		interval:  interval,
	}
}

// SetInterval は特定ホストの間隔を上書きする。limiter生成前に呼ぶ必要がある。
func (t *HostThrottle) SetInterval(host string, interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	host = strings.ToLower(host)
	t.intervals[host] = interval
	delete(t.limiters, host)
}

// Wait はURLのホストに割り当てた枠が空くまで待機する。ctxがキャンセルされるとエラーを返す。
func (t *HostThrottle) Wait(ctx context.Context, rawURL string) error {
	return t.limiter(hostOf(rawURL)).Wait(ctx)
}

func (t *HostThrottle) limiter(host string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	if l, ok := t.limiters[host]; ok {
		return l
	}
	interval := t.interval
	if d, ok := t.intervals[host]; ok {
		interval = d
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	l := rate.NewLimiter(limit, 1)
	t.limiters[host] = l
	return l
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.ToLower(u.Host)
}
