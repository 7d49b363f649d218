package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/store"
)

// =============================================================================
// readDocuments
// =============================================================================

func TestReadDocuments_JSONL(t *testing.T) {
	// Given: JSON lines with a blank line and a document without an id
	in := `{"id":"a","title":"A","content":"alpha"}

{"title":"B","content":"beta","metadata":{"team":"ops"}}
`

	// When: reading them
	docs, err := readDocuments(strings.NewReader(in), "jsonl")

	// Then: both documents are returned and the second gets an id
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.NotEmpty(t, docs[1].ID)
	assert.Equal(t, "ops", docs[1].Metadata["team"])
}

func TestReadDocuments_JSONLReportsLine(t *testing.T) {
	// Given: a malformed second line
	in := "{\"id\":\"a\",\"content\":\"x\"}\n{not json}\n"

	// When: reading
	_, err := readDocuments(strings.NewReader(in), "jsonl")

	// Then: the error is an invalid document naming the line
	require.Error(t, err)
	kb, ok := kberrors.As(err)
	require.True(t, ok)
	assert.Equal(t, kberrors.ErrCodeInvalidDocument, kb.Code)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadDocuments_JSONArray(t *testing.T) {
	// Given: a JSON array
	in := `[{"id":"a","content":"alpha"},{"id":"b","content":"beta"}]`

	// When: reading
	docs, err := readDocuments(strings.NewReader(in), "json")

	// Then: both documents are returned in order
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[1].ID)
}

func TestReadDocuments_YAML(t *testing.T) {
	// Given: a YAML sequence
	in := `- id: a
  title: Alpha
  content: first
- title: Beta
  content: second
`

	// When: reading
	docs, err := readDocuments(strings.NewReader(in), "yaml")

	// Then: documents decode and the missing id is generated
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Alpha", docs[0].Title)
	assert.NotEmpty(t, docs[1].ID)
}

func TestReadDocuments_EmptyYAML(t *testing.T) {
	// When: reading an empty YAML stream
	docs, err := readDocuments(strings.NewReader(""), "yaml")

	// Then: nothing is returned and nothing fails
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestReadDocuments_UnknownFormat(t *testing.T) {
	_, err := readDocuments(strings.NewReader(""), "csv")
	assert.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]string{
		"docs.jsonl":  "jsonl",
		"docs.ndjson": "jsonl",
		"docs.json":   "json",
		"docs.YAML":   "yaml",
		"docs.yml":    "yaml",
		"-":           "jsonl",
	}
	for path, want := range tests {
		assert.Equal(t, want, formatFromPath(path), path)
	}
}

// =============================================================================
// ingest command
// =============================================================================

func TestIngestCmd_FromFile(t *testing.T) {
	// Given: a collection and a YAML file of documents
	env := newTestEnv(t)
	_, err := env.run(t, "collection", "create", "runbooks")
	require.NoError(t, err)
	path := filepath.Join(env.projectDir, "docs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- id: r1\n  title: Restart the queue\n  content: drain then restart\n"), 0o644))

	// When: ingesting the file
	out, err := env.run(t, "ingest", "runbooks", path)

	// Then: the document count is reported and stored
	require.NoError(t, err)
	assert.Contains(t, out, "Ingested 1 documents into runbooks")

	out, err = env.run(t, "collection", "list", "--json")
	require.NoError(t, err)
	var cols []store.Collection
	require.NoError(t, json.Unmarshal([]byte(out), &cols))
	require.Len(t, cols, 1)
	assert.Equal(t, 1, cols[0].DocumentCount)
}

func TestIngestCmd_MissingCollection(t *testing.T) {
	// Given: no collections
	env := newTestEnv(t)

	// When: ingesting without --create
	_, err := env.runWithInput(t, strings.NewReader(helpCenterDocs), "ingest", "nope", "-")

	// Then: it fails as an unknown collection
	require.Error(t, err)
	kb, ok := kberrors.As(err)
	require.True(t, ok)
	assert.Equal(t, kberrors.ErrCodeUnknownCollection, kb.Code)
}

func TestIngestCmd_RefusesWhileLocked(t *testing.T) {
	// Given: another holder of the data directory lock
	env := newTestEnv(t)
	lock := store.NewDirLock(env.dataDir)
	ok, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	t.Cleanup(func() { _ = lock.Unlock() })

	// When: ingesting
	_, err = env.runWithInput(t, strings.NewReader(helpCenterDocs), "ingest", "help", "-", "--create")

	// Then: it refuses with a storage error and a hint
	require.Error(t, err)
	kb, ok := kberrors.As(err)
	require.True(t, ok)
	assert.Equal(t, kberrors.ErrCodeStorageUnavailable, kb.Code)
	assert.Contains(t, kb.Suggestion, "kbsearch serve")
}
