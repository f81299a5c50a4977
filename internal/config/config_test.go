package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := PathFor(dir)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), FileName)
	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(path, true)
	require.Error(t, err)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
backend: native
refs: [main, v1]
scan:
  format: json
watch:
  debounce: 2s
`)
	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "native", cfg.Backend)
	assert.Equal(t, []string{"main", "v1"}, cfg.Refs)
	assert.Equal(t, "json", cfg.Scan.Format)
	assert.Equal(t, 2*time.Second, cfg.Watch.Debounce.Std())

	// Keys absent from the file keep their defaults.
	assert.Equal(t, "native", cfg.Engine)
	assert.Equal(t, "auto", cfg.Scan.Color)
	assert.Equal(t, "refs/original/", cfg.BackupPrefix)
}

func TestLoad_Empty(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, ""), true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Rejects(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"unknown_key":    "identity: someone\n",
		"unknown_nested": "scan:\n  colour: dark\n",
		"bad_duration":   "watch:\n  debounce: soon\n",
		"negative":       "watch:\n  debounce: -1s\n",
		"wrong_type":     "refs: main\n",
		"malformed":      "backend: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, body), true)
			require.Error(t, err)
		})
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "engine: native\nscan:\n  color: light\n")
	t.Setenv("REATTRIB_ENGINE", "fast-export")
	t.Setenv("REATTRIB_REFS", "main,release")
	t.Setenv("REATTRIB_WATCH_DEBOUNCE", "1s")

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "fast-export", cfg.Engine)
	assert.Equal(t, []string{"main", "release"}, cfg.Refs)
	assert.Equal(t, time.Second, cfg.Watch.Debounce.Std())
	assert.Equal(t, "light", cfg.Scan.Color)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("REATTRIB_WATCH_DEBOUNCE", "later")
	_, err := Load(filepath.Join(t.TempDir(), FileName), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}
