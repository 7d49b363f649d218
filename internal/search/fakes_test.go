package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbsearch/internal/feedback"
	"github.com/Aman-CERP/kbsearch/internal/store"
)

// fakeBackend serves canned hits per collection. It implements both
// SemanticBackend and FullTextBackend.
type fakeBackend struct {
	mu    sync.Mutex
	hits  map[string][]store.Hit
	errs  map[string]error
	block chan struct{}
	calls atomic.Int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{hits: make(map[string][]store.Hit), errs: make(map[string]error)}
}

func (f *fakeBackend) set(collection string, hits ...store.Hit) *fakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[collection] = hits
	return f
}

func (f *fakeBackend) fail(collection string, err error) *fakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[collection] = err
	return f
}

func (f *fakeBackend) search(ctx context.Context, collection string, topK int) ([]store.Hit, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[collection]; err != nil {
		return nil, err
	}
	hits := f.hits[collection]
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (f *fakeBackend) SearchVectors(ctx context.Context, collection, _ string, topK int) ([]store.Hit, error) {
	return f.search(ctx, collection, topK)
}

func (f *fakeBackend) SearchText(ctx context.Context, collection, _ string, topK int) ([]store.Hit, error) {
	return f.search(ctx, collection, topK)
}

// fakeDocs is an in-memory DocumentStore and CollectionCatalog.
type fakeDocs struct {
	docs map[string]map[string]*store.Document
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: make(map[string]map[string]*store.Document)}
}

func (f *fakeDocs) add(collection, id, title, content string) *fakeDocs {
	if f.docs[collection] == nil {
		f.docs[collection] = make(map[string]*store.Document)
	}
	f.docs[collection][id] = &store.Document{ID: id, Collection: collection, Title: title, Content: content}
	return f
}

func (f *fakeDocs) GetDocuments(_ context.Context, collection string, ids []string) (map[string]*store.Document, error) {
	out := make(map[string]*store.Document, len(ids))
	for _, id := range ids {
		if d, ok := f.docs[collection][id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

func (f *fakeDocs) HasCollection(_ context.Context, id string) (bool, error) {
	_, ok := f.docs[id]
	return ok, nil
}

// seedCollection adds n documents with distinct content and matching hits
// with descending scores.
func seedCollection(docs *fakeDocs, backend *fakeBackend, collection string, scores ...float64) {
	hits := make([]store.Hit, len(scores))
	for i, s := range scores {
		id := fmt.Sprintf("%s%d", collection, i+1)
		docs.add(collection, id, "Title "+id, fmt.Sprintf("unique body %s term%d", id, i))
		hits[i] = store.Hit{DocID: id, Score: s}
	}
	backend.set(collection, hits...)
}

// fakeSettingsStore records persisted settings.
type fakeSettingsStore struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func (f *fakeSettingsStore) PutSetting(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.data == nil {
		f.data = make(map[string]string)
	}
	f.data[key] = value
	return nil
}

// fakeReranker scores documents from a fixed table.
type fakeReranker struct {
	scores map[string]float64 // by document text
	err    error
	calls  atomic.Int64
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, docs []RerankDocument) ([]RerankScore, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]RerankScore, 0, len(docs))
	for _, d := range docs {
		s, ok := f.scores[d.Text]
		if !ok {
			continue
		}
		out = append(out, RerankScore{ID: d.ID, Score: s})
	}
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAggregator(t *testing.T) *feedback.Aggregator {
	t.Helper()
	agg, err := feedback.NewAggregator(feedback.Config{Logger: discardLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = agg.Close() })
	return agg
}

type engineFixture struct {
	engine   *Engine
	semantic *fakeBackend
	fulltext *fakeBackend
	docs     *fakeDocs
	agg      *feedback.Aggregator
}

func newFixture(t *testing.T, mutate func(*EngineConfig), opts ...Option) *engineFixture {
	t.Helper()
	f := &engineFixture{
		semantic: newFakeBackend(),
		fulltext: newFakeBackend(),
		docs:     newFakeDocs(),
		agg:      newTestAggregator(t),
	}
	cfg := DefaultEngineConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	e, err := NewEngine(f.semantic, f.fulltext, f.docs, f.agg, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	f.engine = e
	return f
}

func resultIDs(rs []ScoredResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func docIDs(rs []ScoredResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.DocumentID
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
