// Package cache はAPI読み取り結果のTTL付きインメモリキャッシュを提供する。
package cache

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTTL はTTL未指定時の有効期間。
	DefaultTTL = 15 * time.Minute
	// DefaultMaxEntries は保持するエントリ数の上限。
	DefaultMaxEntries = 10000
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache はキーごとに有効期限を持つスレッドセーフなキャッシュ。
// 期限切れのエントリは参照時とStartSweeperの定期掃除で取り除かれる。
// エントリ数はmaxEntriesを超えない。
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration
	maxEntries int
	now        func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New はCacheを生成する。defaultTTLが0以下の場合はDefaultTTLを使う。
func New(defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// StartSweeper はintervalごとに期限切れエントリを削除するgoroutineを起動する。
// intervalが0以下の場合は既定のTTLを使う。Stopで停止する。
func (c *Cache) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = c.defaultTTL
	}
	go c.sweepLoop(interval)
}

// Stop は定期掃除を停止する。複数回呼び出しても安全。
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.DeleteExpired()
		case <-c.stopCh:
			return
		}
	}
}

// DeleteExpired は期限切れのエントリを全て削除し、削除件数を返す。
func (c *Cache) DeleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteExpiredLocked(c.now())
}

func (c *Cache) deleteExpiredLocked(now time.Time) int {
	n := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// evictSoonestLocked は最も早く期限切れになるエントリを1件削除する。
func (c *Cache) evictSoonestLocked() {
	var (
		victim string
		oldest time.Time
		found  bool
	)
	for key, e := range c.entries {
		if !found || e.expiresAt.Before(oldest) {
			victim, oldest, found = key, e.expiresAt, true
		}
	}
	if found {
		delete(c.entries, victim)
	}
}

// Get はキーの値を返す。存在しないか期限切れの場合はfalseを返す。
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		// 別のgoroutineが更新していない場合のみ削除する
		if cur, ok := c.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set はキーに値を保存する。ttlが0以下の場合は既定のTTLを使う。
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		// 上限に達したら期限切れを掃除し、それでも空かなければ最も古いものを追い出す
		if c.deleteExpiredLocked(now) == 0 {
			c.evictSoonestLocked()
		}
	}
	c.entries[key] = entry{value: value, expiresAt: now.Add(ttl)}
}

// Delete はキーを削除する。
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// DeletePrefix はprefixで始まる全てのキーを削除し、削除件数を返す。
func (c *Cache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Len は保持しているエントリ数を返す。期限切れのエントリも含む。
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetOrCompute はキャッシュにあればその値を返し、なければcomputeの結果を保存して返す。
// computeがエラーを返した場合は保存しない。
func GetOrCompute[T any](c *Cache, key string, ttl time.Duration, compute func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	v, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

// Key はprefixとパラメータからキーを生成する。
// パラメータは名前順に並べ、空の値は含めない。
func Key(prefix string, params map[string]any) string {
	if len(params) == 0 {
		return prefix
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		v := params[name]
		if v == nil {
			continue
		}
		s := fmt.Sprint(v)
		if s == "" {
			continue
		}
		parts = append(parts, name+"="+s)
	}
	if len(parts) == 0 {
		return prefix
	}
	return prefix + ":" + strings.Join(parts, "&")
}
