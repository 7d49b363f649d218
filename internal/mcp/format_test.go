package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/kbsearch/internal/search"
)

func TestFormatSearchResponse(t *testing.T) {
	got := FormatSearchResponse("reset", sampleResponse())

	assert.True(t, strings.HasPrefix(got, `## Search Results for "reset"`))
	assert.Contains(t, got, "Found 7 results, showing 2 (strategy: auto, cached)")
	assert.Contains(t, got, "### 1. Password reset")
	assert.Contains(t, got, "### 2. d2")
	assert.Contains(t, got, "**Rerank:** 0.910")
	assert.Contains(t, got, "**Cluster:** Password")
	assert.Contains(t, got, "`r1`")
	assert.Contains(t, got, "- **Password** (docs): 1 result\n")
}

func TestFormatSearchResponse_Empty(t *testing.T) {
	assert.Equal(t, `No results found for "x"`, FormatSearchResponse("x", &search.SearchResponse{}))
	assert.Equal(t, `No results found for "x"`, FormatSearchResponse("x", nil))

	got := FormatSearchResponse("x", &search.SearchResponse{
		Failures: []search.CollectionFailure{{Collection: "faq", Code: "ERR_302_ALL_BACKENDS_FAILED", Message: "backends down"}},
		Degraded: true,
	})
	assert.Contains(t, got, "- faq: backends down (ERR_302_ALL_BACKENDS_FAILED)")
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", Snippet("  short  ", 10))
	assert.Equal(t, "héllo…", Snippet("héllo world", 5))
}
