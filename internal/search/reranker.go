package search

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// RerankDocument is one candidate sent to a reranker.
type RerankDocument struct {
	ID   string
	Text string
}

// RerankScore is a refined relevance score for one document.
type RerankScore struct {
	ID    string
	Score float64
}

// Reranker scores query-document pairs more precisely than first-stage
// retrieval, at a higher cost per document.
type Reranker interface {
	// Rerank returns a score for each document, in any order.
	Rerank(ctx context.Context, query string, docs []RerankDocument) ([]RerankScore, error)
}

// NoOpReranker reports reranking as unavailable.
type NoOpReranker struct{}

// Rerank always fails with RerankUnavailable.
func (NoOpReranker) Rerank(context.Context, string, []RerankDocument) ([]RerankScore, error) {
	return nil, kberrors.New(kberrors.ErrCodeRerankUnavailable, "no reranker configured", nil)
}

var _ Reranker = NoOpReranker{}

// RerankStage applies a Reranker to the head of a ranked list.
type RerankStage struct {
	reranker Reranker
	topK     atomic.Int64
	logger   *slog.Logger
}

// NewRerankStage creates a stage that reranks the first topK results.
// A nil reranker behaves like NoOpReranker.
func NewRerankStage(r Reranker, topK int, logger *slog.Logger) *RerankStage {
	if r == nil {
		r = NoOpReranker{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &RerankStage{reranker: r, logger: logger}
	s.SetTopK(topK)
	return s
}

// SetTopK changes how many results are reranked.
func (s *RerankStage) SetTopK(k int) {
	if k <= 0 {
		k = DefaultRerankTopK
	}
	s.topK.Store(int64(k))
}

// Apply reranks the first K results. Their refined scores replace the
// fused score and they are re-sorted; the remaining results keep their
// scores and order. Reranked results scoring below minScore are dropped.
//
// On any reranker failure, including a response that does not score
// every document, results are returned untouched with degraded set.
func (s *RerankStage) Apply(ctx context.Context, query string, results []ScoredResult, minScore float64) (out []ScoredResult, degraded bool) {
	if len(results) == 0 {
		return results, false
	}
	k := min(int(s.topK.Load()), len(results))

	docs := make([]RerankDocument, k)
	for i := range k {
		docs[i] = RerankDocument{ID: results[i].ID, Text: rerankText(&results[i])}
	}

	scores, err := s.reranker.Rerank(ctx, query, docs)
	if err == nil {
		err = checkComplete(docs, scores)
	}
	if err != nil {
		s.logger.Warn("rerank_degraded",
			slog.Int("candidates", k),
			slog.String("error", err.Error()))
		return results, true
	}

	byID := make(map[string]float64, len(scores))
	for _, sc := range scores {
		byID[sc.ID] = clamp01(sc.Score)
	}

	head := make([]ScoredResult, 0, k)
	for i := range k {
		r := results[i]
		refined := byID[r.ID]
		if refined < minScore {
			continue
		}
		r.Score = refined
		r.RerankScore = &refined
		head = append(head, r)
	}
	sort.SliceStable(head, func(i, j int) bool {
		return head[i].Score > head[j].Score
	})

	out = make([]ScoredResult, 0, len(results))
	out = append(out, head...)
	out = append(out, results[k:]...)
	return out, false
}

func rerankText(r *ScoredResult) string {
	if r.Title == "" {
		return r.Content
	}
	return r.Title + "\n" + r.Content
}

var errIncompleteRerank = errors.New("reranker response does not score every document")

// checkComplete verifies that every document received a finite score.
func checkComplete(docs []RerankDocument, scores []RerankScore) error {
	got := make(map[string]struct{}, len(scores))
	for _, sc := range scores {
		if math.IsNaN(sc.Score) || math.IsInf(sc.Score, 0) {
			return kberrors.New(kberrors.ErrCodeRerankUnavailable, "reranker returned a non-finite score", nil)
		}
		got[sc.ID] = struct{}{}
	}
	for _, d := range docs {
		if _, ok := got[d.ID]; !ok {
			return kberrors.New(kberrors.ErrCodeRerankUnavailable, "incomplete rerank response", errIncompleteRerank)
		}
	}
	return nil
}
