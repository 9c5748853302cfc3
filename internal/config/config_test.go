package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "CATALOG_PATH", "JOURNAL_PATH", "JOURNAL_MAX_ROWS", "LOG_LEVEL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg := FromEnv()
	assert.Equal(t, 3001, cfg.Port)
	assert.Equal(t, "", cfg.CatalogPath)
	assert.Equal(t, "data/sessions.db", cfg.JournalPath)
	assert.Equal(t, 100000, cfg.JournalMaxRows)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("JOURNAL_PATH", "")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := FromEnv()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "", cfg.JournalPath, "explicitly empty disables the journal")
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestFromEnvBadIntFallsBack(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	assert.Equal(t, 3001, FromEnv().Port)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=4555\n"), 0o644))

	t.Chdir(dir)

	t.Setenv("PORT", "")
	os.Unsetenv("PORT")
	t.Cleanup(func() { os.Unsetenv("PORT") })

	assert.Equal(t, 4555, Load().Port)
}
