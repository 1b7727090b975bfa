package ingest

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/techfeed/internal/model"
	"github.com/hitoshi/techfeed/internal/repository"
	"github.com/hitoshi/techfeed/internal/source"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// memoryStore はArticleStoreのテスト用インメモリ実装。
// トランザクション内の変更はコミット時にのみ反映される。
type memoryStore struct {
	mu        sync.Mutex
	articles  map[string]model.Article
	beginErr  error
	commitErr error
	insertErr map[string]error
	findErr   map[string]error
	commits   int
	rollbacks int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		articles:  make(map[string]model.Article),
		insertErr: make(map[string]error),
		findErr:   make(map[string]error),
	}
}

func (s *memoryStore) Begin(_ context.Context) (repository.ArticleTx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &memoryTx{store: s, pending: make(map[string]model.Article)}, nil
}

func (s *memoryStore) get(url string) (model.Article, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.articles[url]
	return a, ok
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.articles)
}

type memoryTx struct {
	store   *memoryStore
	pending map[string]model.Article
	done    bool
}

func (tx *memoryTx) FindByCanonicalURL(_ context.Context, url string) (*model.Article, error) {
	if err := tx.store.findErr[url]; err != nil {
		return nil, err
	}
	if a, ok := tx.pending[url]; ok {
		return &a, nil
	}
	if a, ok := tx.store.get(url); ok {
		a.Tags = append([]string(nil), a.Tags...)
		return &a, nil
	}
	return nil, nil
}

func (tx *memoryTx) Insert(_ context.Context, a *model.Article) error {
	if err := tx.store.insertErr[a.CanonicalURL]; err != nil {
		return err
	}
	if _, ok := tx.pending[a.CanonicalURL]; ok {
		return errors.New("duplicate canonical_url")
	}
	if _, ok := tx.store.get(a.CanonicalURL); ok {
		return errors.New("duplicate canonical_url")
	}
	tx.pending[a.CanonicalURL] = *a
	return nil
}

func (tx *memoryTx) Update(_ context.Context, a *model.Article) error {
	tx.pending[a.CanonicalURL] = *a
	return nil
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return errors.New("transaction already closed")
	}
	tx.done = true
	if tx.store.commitErr != nil {
		return tx.store.commitErr
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for url, a := range tx.pending {
		tx.store.articles[url] = a
	}
	tx.store.commits++
	return nil
}

func (tx *memoryTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.store.mu.Lock()
	tx.store.rollbacks++
	tx.store.mu.Unlock()
	return nil
}

// fakeSource はsource.Sourceのテスト用実装。
type fakeSource struct {
	name     string
	phase    string
	articles []model.Article
	err      error
	delay    time.Duration
	panicMsg string

	mu        sync.Mutex
	lastLimit int
	calls     int
}

func (f *fakeSource) Name() string  { return f.name }
func (f *fakeSource) Phase() string { return f.phase }

func (f *fakeSource) Fetch(ctx context.Context, limit int) ([]model.Article, error) {
	f.mu.Lock()
	f.lastLimit = limit
	f.calls++
	f.mu.Unlock()

	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.articles) > limit {
		return f.articles[:limit], nil
	}
	return f.articles, nil
}

// staticProvider はSourceProviderのテスト用実装。
type staticProvider struct {
	sources []source.Source
}

func (p *staticProvider) Sources(_ context.Context) []source.Source {
	return p.sources
}

// recordingRecorder はRecorderのテスト用実装。
type recordingRecorder struct {
	mu      sync.Mutex
	fetches map[string]error
	runs    []model.Summary
}

func (r *recordingRecorder) ObserveSourceFetch(name, _ string, _ int, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetches == nil {
		r.fetches = make(map[string]error)
	}
	r.fetches[name] = err
}

func (r *recordingRecorder) ObserveRun(s model.Summary, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, s)
}

func article(title, url string, published time.Time) model.Article {
	return model.Article{
		Title:        title,
		CanonicalURL: url,
		SourceName:   "Test",
		PublishedAt:  published,
		Tags:         []string{"tech"},
		IsPublished:  true,
	}
}
