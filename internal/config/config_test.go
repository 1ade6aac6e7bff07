package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := DefaultConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultPrefix, cfg.Prefix)
	assert.Equal(t, DefaultAPIRoot, cfg.APIRoot)
	assert.Empty(t, cfg.BottlesMirror)
}

func TestDefaultConfigAPIMirror(t *testing.T) {
	t.Setenv(EnvAPIMirror, "https://mirror.example.com/api/")
	cfg, err := DefaultConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example.com/api", cfg.APIRoot)
}

func TestDefaultConfigBottlesMirror(t *testing.T) {
	t.Setenv(EnvBottlesMirror, "https://bottles.example.com")
	cfg, err := DefaultConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://bottles.example.com", cfg.BottlesMirror)
}

func TestCatalogPath(t *testing.T) {
	cfg := &Config{Prefix: "/opt/pac"}
	assert.Equal(t, "/opt/pac/PacData/pacs.sqlite", cfg.CatalogPath())
}

func TestCachePath(t *testing.T) {
	cfg := &Config{CacheDir: "/tmp/cache"}
	assert.Equal(t, "/tmp/cache/wget-abc123.tar.gz", cfg.CachePath("wget", "abc123"))
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Prefix:   dir + "/prefix",
		CacheDir: dir + "/cache",
	}
	require.NoError(t, cfg.EnsureDirectories())

	_, err := os.Stat(cfg.CacheDir)
	assert.NoError(t, err)
}
