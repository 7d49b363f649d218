package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbsearch/internal/embed"
)

func TestVectorIndex_SearchFindsSimilarDocument(t *testing.T) {
	// Given: a vector index over the sample documents
	v := NewVectorIndex(embed.NewHashEmbedder(256), VectorConfig{})
	defer v.Close()
	require.NoError(t, v.Index(context.Background(), "kb", sampleDocs()))

	// When: searching with a paraphrase
	hits, err := v.SearchVectors(context.Background(), "kb", "how can I reset my account password", 3)
	require.NoError(t, err)

	// Then: the password document is the best match and scores are in [0,1]
	require.NotEmpty(t, hits)
	assert.Equal(t, "pw", hits[0].DocID)
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 1.0)
	}
}

func TestVectorIndex_ReindexAndDelete(t *testing.T) {
	v := NewVectorIndex(embed.NewHashEmbedder(64), VectorConfig{})
	defer v.Close()
	ctx := context.Background()
	require.NoError(t, v.Index(ctx, "kb", sampleDocs()))

	// When: a document is re-indexed and another deleted
	require.NoError(t, v.Index(ctx, "kb", []*Document{{ID: "bill", Content: "refund policy"}}))
	require.NoError(t, v.Delete(ctx, "kb", []string{"err"}))

	// Then: counts reflect live documents only
	assert.Equal(t, 2, v.Count("kb"))

	hits, err := v.SearchVectors(ctx, "kb", "connection refused server down", 5)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "err", h.DocID)
	}
	assert.LessOrEqual(t, len(hits), 2)
}

func TestVectorIndex_Vectors(t *testing.T) {
	v := NewVectorIndex(embed.NewHashEmbedder(32), VectorConfig{})
	defer v.Close()
	require.NoError(t, v.Index(context.Background(), "kb", sampleDocs()))

	vecs, err := v.Vectors(context.Background(), "kb", []string{"pw", "missing"})

	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Len(t, vecs["pw"], 32)
}

func TestVectorIndex_EmptyCollection(t *testing.T) {
	v := NewVectorIndex(embed.NewHashEmbedder(32), VectorConfig{})

	hits, err := v.SearchVectors(context.Background(), "none", "anything", 5)

	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDirLock_ExclusiveWithinProcess(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	first := NewDirLock(dir)
	second := NewDirLock(dir)

	ok, err := first.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.FileExists(t, first.Path())

	ok, err = second.TryLock()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.Unlock())
	require.NoError(t, first.Unlock())

	ok, err = second.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Unlock())
}
