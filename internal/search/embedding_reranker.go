package search

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/Aman-CERP/kbsearch/internal/embed"
	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// EmbeddingReranker scores documents by cosine similarity between the query
// embedding and each document embedding. It is the fallback when no
// cross-encoder is reachable.
type EmbeddingReranker struct {
	embedder embed.Embedder
}

var _ Reranker = (*EmbeddingReranker)(nil)

// NewEmbeddingReranker creates a reranker over embedder.
func NewEmbeddingReranker(embedder embed.Embedder) *EmbeddingReranker {
	return &EmbeddingReranker{embedder: embedder}
}

// Rerank embeds the query and documents and returns their cosine
// similarity, floored at 0.
func (r *EmbeddingReranker) Rerank(ctx context.Context, query string, docs []RerankDocument) ([]RerankScore, error) {
	if r.embedder == nil {
		return nil, kberrors.New(kberrors.ErrCodeRerankUnavailable, "no embedder for reranking", nil)
	}
	if len(docs) == 0 {
		return []RerankScore{}, nil
	}

	qv, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeRerankUnavailable, "embed query", err)
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	dvs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeRerankUnavailable, "embed documents", err)
	}
	if len(dvs) != len(docs) {
		return nil, kberrors.New(kberrors.ErrCodeRerankUnavailable,
			fmt.Sprintf("embedder returned %d vectors for %d documents", len(dvs), len(docs)), nil)
	}

	q := toFloat64(qv)
	out := make([]RerankScore, len(docs))
	for i, d := range docs {
		out[i] = RerankScore{ID: d.ID, Score: clamp01(cosine(q, toFloat64(dvs[i])))}
	}
	return out, nil
}

// cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their lengths differ.
func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
