package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 300*time.Millisecond, cfg.Picker.SearchDebounce)
	assert.Equal(t, time.Duration(0), cfg.Client.Timeout)
	require.NotNil(t, cfg.Exam.ProblemCount)
	assert.Equal(t, Bounds{Min: 10, Max: 50}, *cfg.Exam.ProblemCount)
	assert.Empty(t, cfg.Path)
}

func TestLoadParsesYaml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := strings.TrimSpace(`
version: 1
server:
  addr: 127.0.0.1:9000
  db: data/scopes.db
client:
  base_url: http://scopes.local/
  timeout: 5s
picker:
  mode: single
  search_debounce: 150ms
exam:
  problem_count:
    min: 5
    max: 20
log:
  mode: prod
  level: WARN
  file: logs/scopes.log
`)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, filepath.Join(dir, "data", "scopes.db"), cfg.DBPath())
	assert.Equal(t, "http://scopes.local", cfg.Client.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Client.Timeout)
	assert.Equal(t, "single", cfg.Picker.Mode)
	assert.Equal(t, 150*time.Millisecond, cfg.Picker.SearchDebounce)
	assert.Equal(t, Bounds{Min: 5, Max: 20}, *cfg.Exam.ProblemCount)
	assert.Equal(t, filepath.Join(dir, "logs", "scopes.log"), cfg.LogFile("fallback"))
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, path, cfg.Path)
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"bad mode":      "picker:\n  mode: tree\n",
		"bad bounds":    "exam:\n  problem_count:\n    min: 20\n    max: 10\n",
		"bad version":   "version: 2\n",
		"bad log mode":  "log:\n  mode: loud\n",
		"bad log level": "log:\n  level: chatty\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, WriteDefault(path))
	require.Error(t, WriteDefault(path), "second write must refuse to overwrite")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Picker, cfg.Picker)
	assert.Equal(t, Default().Client.BaseURL, cfg.Client.BaseURL)
}
