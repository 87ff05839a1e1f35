package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/entityledger/core/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaultsWithoutFile(t *testing.T) {
	l, err := config.New("")
	require.NoError(t, err)

	cfg := l.Current()
	assert.Equal(t, 5*time.Minute, cfg.PollInterval)
	assert.Equal(t, 1*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 8, cfg.WriteMaxRetries)
	assert.Equal(t, 1, cfg.SchemaVersion)
	assert.Equal(t, "postgres", cfg.MetastoreDialect)
}

func TestNewReadsTOMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entityledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
poll_interval = "30s"
write_max_retries = 3
metastore_dsn = "postgres://example/entityledger"
`), 0o644))

	l, err := config.New(path)
	require.NoError(t, err)

	cfg := l.Current()
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 3, cfg.WriteMaxRetries)
	assert.Equal(t, "postgres://example/entityledger", cfg.MetastoreDSN)
}

func TestNewMissingFileIsNotAnError(t *testing.T) {
	_, err := config.New(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
}

func TestBindFlagsOverridesDefaults(t *testing.T) {
	l, err := config.New("")
	require.NoError(t, err)

	require.NoError(t, l.BindFlags(map[string]any{"write_max_retries": 1}))
	assert.Equal(t, 1, l.Current().WriteMaxRetries)
}

func TestNewReadsBootFieldFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entityledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(`schema_version = 7`+"\n"), 0o644))

	l, err := config.New(path)
	require.NoError(t, err)
	assert.Equal(t, 7, l.Current().SchemaVersion)

	var got config.Reloadable
	l.OnReload(func(r config.Reloadable) { got = r })
	_ = got
}
