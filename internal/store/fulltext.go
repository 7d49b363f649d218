package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// titleBoost weights title matches over body matches.
const titleBoost = 2.0

var quotedPhrase = regexp.MustCompile(`"([^"]+)"`)

// bleveDocument is the indexed shape of a Document.
type bleveDocument struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// FullTextIndex keeps one in-memory bleve index per collection.
// Indexes are rebuilt from the SQLite store at start-up.
type FullTextIndex struct {
	mu      sync.RWMutex
	indexes map[string]bleve.Index
	closed  bool
}

// NewFullTextIndex creates an empty index set.
func NewFullTextIndex() *FullTextIndex {
	return &FullTextIndex{indexes: make(map[string]bleve.Index)}
}

func newIndexMapping() *mapping.IndexMappingImpl {
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = en.AnalyzerName
	textField.Store = false
	textField.IncludeTermVectors = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("title", textField)
	doc.AddFieldMappingsAt("content", textField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = en.AnalyzerName
	return m
}

func (f *FullTextIndex) indexFor(collection string, create bool) (bleve.Index, error) {
	if f.closed {
		return nil, fmt.Errorf("full-text index is closed")
	}
	if idx, ok := f.indexes[collection]; ok {
		return idx, nil
	}
	if !create {
		return nil, nil
	}
	idx, err := bleve.NewMemOnly(newIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create full-text index for %s: %w", collection, err)
	}
	f.indexes[collection] = idx
	return idx, nil
}

// Index adds or replaces documents in a collection's index.
func (f *FullTextIndex) Index(ctx context.Context, collection string, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	idx, err := f.indexFor(collection, true)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := batch.Index(d.ID, bleveDocument{Title: d.Title, Content: d.Content}); err != nil {
			return fmt.Errorf("index document %s: %w", d.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}
	return nil
}

// Delete removes documents from a collection's index.
func (f *FullTextIndex) Delete(_ context.Context, collection string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx, err := f.indexFor(collection, false)
	if err != nil || idx == nil {
		return err
	}
	batch := idx.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return idx.Batch(batch)
}

// SearchText returns up to topK hits, best first. Quoted phrases must
// match exactly; remaining words are scored against title and content.
func (f *FullTextIndex) SearchText(ctx context.Context, collection, text string, topK int) ([]Hit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	idx, err := f.indexFor(collection, false)
	if err != nil {
		return nil, err
	}
	q := buildQuery(text)
	if idx == nil || q == nil || topK <= 0 {
		return []Hit{}, nil
	}

	req := bleve.NewSearchRequestOptions(q, topK, 0, false)
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{DocID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// buildQuery returns nil when text has nothing searchable.
func buildQuery(text string) query.Query {
	var phrases []query.Query
	for _, m := range quotedPhrase.FindAllStringSubmatch(text, -1) {
		phrase := strings.TrimSpace(m[1])
		if phrase == "" {
			continue
		}
		pq := bleve.NewMatchPhraseQuery(phrase)
		pq.SetField("content")
		phrases = append(phrases, pq)
	}

	rest := strings.TrimSpace(quotedPhrase.ReplaceAllString(text, " "))
	var terms query.Query
	if rest != "" {
		content := bleve.NewMatchQuery(rest)
		content.SetField("content")
		title := bleve.NewMatchQuery(rest)
		title.SetField("title")
		title.SetBoost(titleBoost)
		terms = bleve.NewDisjunctionQuery(content, title)
	}

	switch {
	case len(phrases) == 0:
		return terms
	case terms == nil:
		return bleve.NewConjunctionQuery(phrases...)
	default:
		b := bleve.NewBooleanQuery()
		b.AddMust(phrases...)
		b.AddShould(terms)
		return b
	}
}

// Count returns the number of documents indexed for a collection.
func (f *FullTextIndex) Count(collection string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	idx, ok := f.indexes[collection]
	if !ok {
		return 0
	}
	n, _ := idx.DocCount()
	return int(n)
}

// Close closes every collection index.
func (f *FullTextIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	var firstErr error
	for name, idx := range f.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close index %s: %w", name, err)
		}
	}
	return firstErr
}
