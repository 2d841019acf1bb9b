package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 512, cfg.Embeddings.Dimensions)
	require.Equal(t, "cosine", cfg.Qdrant.Metric)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
embeddings:
  dimensions: 256
compounding:
  decay_after_days: 7
  decay_rate: 0.5
http:
  addr: ":9090"
  cors_allowed_origins:
    - https://example.com
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 256, cfg.Embeddings.Dimensions)
	require.Equal(t, 7, cfg.Compounding.DecayAfterDays)
	require.Equal(t, 0.5, cfg.Compounding.DecayRate)
	require.Equal(t, ":9090", cfg.HTTP.Addr)
	require.Equal(t, []string{"https://example.com"}, cfg.HTTP.CORSAllowedOrigins)
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
