package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbsearch/internal/output"
	"github.com/Aman-CERP/kbsearch/internal/preflight"
)

func TestDoctor_FreshEnvironment(t *testing.T) {
	// Given: a fresh data directory
	env := newTestEnv(t)

	// When: running doctor as JSON
	out, err := env.run(t, "doctor", "--json", "--no-probe")

	// Then: nothing is critical and the empty database is a warning
	require.NoError(t, err)
	var got DoctorOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "ready_with_warnings", got.Status)

	byName := make(map[string]string)
	for _, c := range got.Checks {
		byName[c.Name] = c.Status.String()
	}
	assert.Equal(t, "PASS", byName["config"])
	assert.Equal(t, "WARN", byName["database"])
	assert.Equal(t, "PASS", byName["data_dir_lock"])
}

func TestDoctor_TextOutput(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "doctor", "--no-probe")

	require.NoError(t, err)
	assert.Contains(t, out, "write_permissions")
	assert.Contains(t, out, "Ready with warnings")
}

func TestDoctor_UnwritableDataDirFails(t *testing.T) {
	// Given: a data directory below a regular file
	env := newTestEnv(t)
	blocker := filepath.Join(env.projectDir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	env.dataDir = filepath.Join(blocker, "data")

	// When: running doctor
	out, err := env.run(t, "doctor", "--no-probe")

	// Then: it reports the failure and exits with an error
	require.ErrorIs(t, err, errDoctorFailed)
	assert.Contains(t, out, "Not ready")
}

func TestPrintDoctorResults_DetailsOnProblems(t *testing.T) {
	buf := new(bytes.Buffer)
	w := output.NewWithColor(buf, false)
	results := []preflight.CheckResult{
		{Name: "database", Status: preflight.StatusPass, Message: "ok", Details: "/tmp/kb.db", Required: true},
		{Name: "reranker", Status: preflight.StatusFail, Message: "unreachable", Details: "connection refused"},
	}

	printDoctorResults(w, results, false)

	out := buf.String()
	assert.Contains(t, out, "connection refused")
	assert.NotContains(t, out, "/tmp/kb.db")
	assert.Contains(t, out, "Ready with warnings")
}
