package config

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, dir string) <-chan *Config {
	t.Helper()
	changes := make(chan *Config, 4)
	w, err := NewWatcher(dir, func(c *Config) { changes <- c },
		WithReloadDebounce(20*time.Millisecond),
		WithWatcherLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = w.Close()
	})
	return changes
}

// waitForMaxResults drains reloads until one carries want.
func waitForMaxResults(t *testing.T, changes <-chan *Config, want int) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Search.MaxResults == want {
				return
			}
			assert.NotEqual(t, 1000, cfg.Search.MaxResults, "invalid config delivered")
		case <-deadline:
			t.Fatalf("no reload with max_results %d", want)
		}
	}
}

func TestWatcher_ReloadsOnProjectConfigChange(t *testing.T) {
	// Given
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ProjectConfigName)
	writeFile(t, path, "search:\n  max_results: 10\n")
	changes := startWatcher(t, dir)

	// When
	writeFile(t, path, "search:\n  max_results: 42\n")

	// Then
	waitForMaxResults(t, changes, 42)
}

func TestWatcher_SkipsInvalidConfig(t *testing.T) {
	// Given
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ProjectConfigName)
	writeFile(t, path, "search:\n  max_results: 10\n")
	changes := startWatcher(t, dir)

	// When: an invalid edit, then a valid one
	writeFile(t, path, "search:\n  max_results: 1000\n")
	time.Sleep(200 * time.Millisecond)
	writeFile(t, path, "search:\n  max_results: 11\n")

	// Then: only the valid configuration is delivered
	waitForMaxResults(t, changes, 11)
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	changes := startWatcher(t, dir)

	writeFile(t, filepath.Join(dir, "notes.txt"), "hello")

	select {
	case <-changes:
		t.Fatal("unexpected reload")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNewWatcher_NothingToWatch(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(t.TempDir(), "missing"))

	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), nil)

	assert.Error(t, err)
}
