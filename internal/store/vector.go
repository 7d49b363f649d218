package store

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"

	"github.com/Aman-CERP/kbsearch/internal/embed"
)

// VectorConfig tunes the HNSW graphs.
type VectorConfig struct {
	// M is the maximum number of neighbours per node.
	M int
	// EfSearch is the candidate list size during search.
	EfSearch int
}

// collectionGraph is the HNSW graph of one collection plus the mapping
// between document ids and graph keys.
type collectionGraph struct {
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	vectors map[string][]float32
	nextKey uint64
}

// VectorIndex is the semantic backend: one cosine HNSW graph per collection,
// fed by an embedder.
type VectorIndex struct {
	mu       sync.RWMutex
	embedder embed.Embedder
	cfg      VectorConfig
	graphs   map[string]*collectionGraph
	closed   bool
}

// NewVectorIndex creates an empty vector index.
func NewVectorIndex(embedder embed.Embedder, cfg VectorConfig) *VectorIndex {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	return &VectorIndex{
		embedder: embedder,
		cfg:      cfg,
		graphs:   make(map[string]*collectionGraph),
	}
}

func (v *VectorIndex) newGraph() *collectionGraph {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = v.cfg.M
	g.EfSearch = v.cfg.EfSearch
	g.Ml = 0.25
	return &collectionGraph{
		graph:   g,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		vectors: make(map[string][]float32),
	}
}

// Index embeds and adds documents to a collection's graph. Re-indexing an
// id orphans its old node instead of deleting it from the graph.
func (v *VectorIndex) Index(ctx context.Context, collection string, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text()
	}
	// Embed outside the lock.
	vectors, err := v.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return fmt.Errorf("vector index is closed")
	}
	cg, ok := v.graphs[collection]
	if !ok {
		cg = v.newGraph()
		v.graphs[collection] = cg
	}

	for i, d := range docs {
		if len(vectors[i]) != v.embedder.Dimensions() {
			return fmt.Errorf("dimension mismatch for %s: expected %d, got %d",
				d.ID, v.embedder.Dimensions(), len(vectors[i]))
		}
		if old, exists := cg.idMap[d.ID]; exists {
			delete(cg.keyMap, old)
		}

		vec := normalized(vectors[i])
		key := cg.nextKey
		cg.nextKey++
		cg.graph.Add(hnsw.MakeNode(key, vec))
		cg.idMap[d.ID] = key
		cg.keyMap[key] = d.ID
		cg.vectors[d.ID] = vec
	}
	return nil
}

// Delete forgets documents. Their nodes stay in the graph but never match.
func (v *VectorIndex) Delete(_ context.Context, collection string, ids []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	cg, ok := v.graphs[collection]
	if !ok {
		return nil
	}
	for _, id := range ids {
		if key, exists := cg.idMap[id]; exists {
			delete(cg.keyMap, key)
			delete(cg.idMap, id)
			delete(cg.vectors, id)
		}
	}
	return nil
}

// SearchVectors embeds the query and returns up to topK hits, best first.
// Scores map cosine similarity into [0,1].
func (v *VectorIndex) SearchVectors(ctx context.Context, collection, text string, topK int) ([]Hit, error) {
	if topK <= 0 {
		return []Hit{}, nil
	}
	q, err := v.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	q = normalized(q)

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	cg, ok := v.graphs[collection]
	if !ok || cg.graph.Len() == 0 || isZero(q) {
		return []Hit{}, nil
	}

	// Ask for extra nodes to make up for orphaned keys.
	k := topK + (cg.graph.Len() - len(cg.idMap))
	nodes := cg.graph.Search(q, k)

	hits := make([]Hit, 0, min(topK, len(nodes)))
	for _, n := range nodes {
		id, live := cg.keyMap[n.Key]
		if !live {
			continue
		}
		dist := cg.graph.Distance(q, n.Value)
		hits = append(hits, Hit{DocID: id, Score: distanceToScore(dist)})
		if len(hits) == topK {
			break
		}
	}
	return hits, nil
}

// Vectors returns the stored, normalised vectors of the given documents.
func (v *VectorIndex) Vectors(_ context.Context, collection string, ids []string) (map[string][]float32, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make(map[string][]float32, len(ids))
	cg, ok := v.graphs[collection]
	if !ok {
		return out, nil
	}
	for _, id := range ids {
		if vec, ok := cg.vectors[id]; ok {
			out[id] = vec
		}
	}
	return out, nil
}

// Count returns the number of live documents in a collection's graph.
func (v *VectorIndex) Count(collection string) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if cg, ok := v.graphs[collection]; ok {
		return len(cg.idMap)
	}
	return 0
}

// Close releases the graphs.
func (v *VectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.graphs = map[string]*collectionGraph{}
	return nil
}

func normalized(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sumSquares == 0 {
		return out
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// distanceToScore maps cosine distance in [0,2] to a similarity in [0,1].
func distanceToScore(distance float32) float64 {
	s := 1.0 - float64(distance)/2.0
	return math.Max(0, math.Min(1, s))
}
