package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbsearch/internal/search"
)

func showSettings(t *testing.T, env *testEnv) map[string]string {
	t.Helper()
	out, err := env.run(t, "settings", "show", "--json")
	require.NoError(t, err)
	var kv map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &kv))
	return kv
}

func TestSettingsCmd_ShowDefaults(t *testing.T) {
	// Given: a fresh environment
	env := newTestEnv(t)

	// When: showing settings
	kv := showSettings(t, env)

	// Then: every key is present with the configured defaults
	for _, k := range search.SettingKeys() {
		assert.Contains(t, kv, k)
	}
	assert.Equal(t, "10", kv[search.KeyMaxResults])
	assert.Equal(t, "0.7", kv[search.KeySemanticWeight])
}

func TestSettingsCmd_SetPersistsAcrossRuns(t *testing.T) {
	// Given: a fresh environment
	env := newTestEnv(t)

	// When: changing two settings
	out, err := env.run(t, "settings", "set", "max_results=25", "cache_ttl=30m")
	require.NoError(t, err)
	assert.Contains(t, out, "Updated 2 setting(s)")

	// Then: a later invocation sees them over the config defaults
	kv := showSettings(t, env)
	assert.Equal(t, "25", kv[search.KeyMaxResults])
	assert.Equal(t, "30m0s", kv[search.KeyCacheTTL])
}

func TestSettingsCmd_SetRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown key", args: []string{"colour=blue"}},
		{name: "not a number", args: []string{"max_results=many"}},
		{name: "out of range", args: []string{"max_results=0"}},
		{name: "missing value separator", args: []string{"max_results"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a fresh environment
			env := newTestEnv(t)

			// When: setting an invalid value
			_, err := env.run(t, append([]string{"settings", "set"}, tt.args...)...)

			// Then: it fails and nothing changes
			require.Error(t, err)
			assert.Equal(t, "10", showSettings(t, env)[search.KeyMaxResults])
		})
	}
}

func TestParseAssignments(t *testing.T) {
	kv, err := parseAssignments([]string{"a=1", " b = two "})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "two"}, kv)

	_, err = parseAssignments([]string{"=1"})
	assert.Error(t, err)
}
