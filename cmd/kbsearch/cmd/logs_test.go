package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLogFilter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("since and pattern", func(t *testing.T) {
		f, err := buildLogFilter(logsOptions{since: time.Hour, pattern: "runbooks", level: "warn"}, now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(-time.Hour), f.Since)
		require.NotNil(t, f.Pattern)
		assert.True(t, f.Pattern.MatchString("collection=runbooks"))
		assert.Equal(t, "warn", f.Level)
	})

	t.Run("bad level", func(t *testing.T) {
		_, err := buildLogFilter(logsOptions{level: "loud"}, now)
		assert.Error(t, err)
	})

	t.Run("bad pattern", func(t *testing.T) {
		_, err := buildLogFilter(logsOptions{pattern: "("}, now)
		assert.Error(t, err)
	})
}

func TestLogsCmd_ShowsCommandEvents(t *testing.T) {
	// Given: an ingest that logged its outcome
	env := newTestEnv(t)
	_, err := env.runWithInput(t, strings.NewReader(helpCenterDocs), "ingest", "help", "-", "--create")
	require.NoError(t, err)

	// When: viewing logs filtered to that event
	out, err := env.run(t, "logs", "--event", "ingest_completed")

	// Then: only that event is shown with its attributes
	require.NoError(t, err)
	assert.Contains(t, out, "ingest_completed")
	assert.Contains(t, out, "collection=help")
	assert.NotContains(t, out, "indexes_loaded")
}

func TestLogsCmd_NoLogFile(t *testing.T) {
	// Given: a data directory nothing has logged to
	env := newTestEnv(t)

	// When: viewing logs
	_, err := env.run(t, "logs")

	// Then: it explains there is no log yet
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no log file")
}
