package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/strategy"
)

func plainWriter() (*Writer, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return NewWithColor(buf, false), buf
}

func TestWriter_StatusMessages(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  string
	}{
		{"status", func(w *Writer) { w.Status("→", "Loading config") }, "→ Loading config\n"},
		{"status without icon", func(w *Writer) { w.Status("", "detail") }, "   detail\n"},
		{"success", func(w *Writer) { w.Successf("Ingested %d documents", 3) }, "✓ Ingested 3 documents\n"},
		{"warning", func(w *Writer) { w.Warning("Reranker unavailable") }, "! Reranker unavailable\n"},
		{"error", func(w *Writer) { w.Errorf("collection %q missing", "faq") }, "✗ collection \"faq\" missing\n"},
		{"header", func(w *Writer) { w.Header("Settings") }, "Settings\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given
			w, buf := plainWriter()

			// When
			tt.write(w)

			// Then
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriter_Code_IndentsLines(t *testing.T) {
	w, buf := plainWriter()

	w.Code("a: 1\nb: 2")

	assert.Equal(t, "\n  a: 1\n  b: 2\n\n", buf.String())
}

func TestWriter_Progress(t *testing.T) {
	w, buf := plainWriter()

	w.Progress(0, 0, "ignored")
	assert.Empty(t, buf.String())

	w.Progress(5, 10, "half")
	assert.Contains(t, buf.String(), "50% half")
	assert.NotContains(t, buf.String(), "\n")

	w.Progress(10, 10, "done")
	assert.True(t, strings.HasSuffix(buf.String(), "100% done\n"))
}

func TestRenderProgressBar(t *testing.T) {
	assert.Equal(t, "█████░░░░░", renderProgressBar(5, 10, 10))
	assert.Equal(t, "██████████", renderProgressBar(20, 10, 10))
	assert.Equal(t, "░░░░", renderProgressBar(1, 0, 4))
}

func TestWriter_Table(t *testing.T) {
	w, buf := plainWriter()

	w.Table([]string{"ID", "DOCS"}, [][]string{{"handbook", "12"}, {"faq", "3"}})

	assert.Equal(t, "ID        DOCS\nhandbook  12\nfaq       3\n", buf.String())
}

func TestWriter_KeyValues(t *testing.T) {
	w, buf := plainWriter()

	w.KeyValues([][2]string{{"hits", "3"}, {"capacity", "1000"}})

	assert.Equal(t, "  hits:     3\n  capacity: 1000\n", buf.String())
}

func TestWriter_Results(t *testing.T) {
	// Given
	w, buf := plainWriter()
	rerank := 0.8
	resp := &search.SearchResponse{
		Results: []search.ScoredResult{
			{ID: "r1", DocumentID: "d1", Collection: "docs", Title: "Reset password", Content: "Open  settings\nand click reset.",
				Score: 0.9123, RerankScore: &rerank, Cluster: "Password", Strategy: strategy.Hybrid},
		},
		Strategy:   strategy.Hybrid,
		TotalFound: 4,
		Clusters:   []search.Cluster{{Name: "Password", Collection: "docs", Count: 1}},
		Failures:   []search.CollectionFailure{{Collection: "faq", Code: "ERR_302_ALL_BACKENDS_FAILED", Message: "down"}},
		Degraded:   true,
		Elapsed:    12 * time.Millisecond,
	}

	// When
	w.Results("reset", resp)

	// Then
	out := buf.String()
	assert.Contains(t, out, "1 of 4 results (strategy hybrid, degraded, 12ms)")
	assert.Contains(t, out, " 1. Reset password 0.912")
	assert.Contains(t, out, "docs · hybrid · rerank 0.800 · cluster Password · id r1")
	assert.Contains(t, out, "Open settings and click reset.")
	assert.Contains(t, out, "Password (docs, 1)")
	assert.Contains(t, out, "! faq: down (ERR_302_ALL_BACKENDS_FAILED)")
}

func TestWriter_Results_Empty(t *testing.T) {
	w, buf := plainWriter()

	w.Results("nothing", &search.SearchResponse{})

	assert.Equal(t, "! No results for \"nothing\"\n", buf.String())
}

func TestStyles_LevelPlain(t *testing.T) {
	s := NoColorStyles()

	assert.Equal(t, "WARN ", s.Level("warn", "WARN "))
	assert.Equal(t, "INFO ", s.Level("INFO", "INFO "))
}

func TestColorEnabled_NonTerminal(t *testing.T) {
	assert.False(t, ColorEnabled(&bytes.Buffer{}))
	assert.False(t, IsTTY(nil))
}
