package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err, "a missing file runs on defaults")

	assert.Equal(t, 3600, cfg.Cache.TTLSeconds)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.Equal(t, 5*time.Second, cfg.Fanout.Timeout())
	assert.Equal(t, 3, cfg.Fanout.MaxRetries)
	assert.Equal(t, time.Second, cfg.Fanout.BackoffBase())
	assert.Equal(t, 32, cfg.Fanout.MaxInflight)
	assert.InDelta(t, 0.7, cfg.Hybrid.SemanticWeight, 1e-9)
	assert.InDelta(t, 0.3, cfg.Hybrid.KeywordWeight, 1e-9)
	assert.Equal(t, 3, cfg.Hybrid.OverfetchMultiplier)
	assert.Equal(t, "silo", cfg.Routing.Strategy)
	assert.Equal(t, "all-MiniLM-L6-v2", cfg.Embedder.ModelName)
	assert.Equal(t, 32, cfg.Embedder.BatchSize)
	assert.Equal(t, "memory", cfg.Vector.Mode)
	assert.Equal(t, 384, cfg.Vector.ExpectedDim)
	assert.True(t, cfg.Log.EnableQueryLogging)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grantmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache:
  ttl_seconds: 60
routing:
  strategy: keyword
  keyword_triggers:
    nihr: [clinical, nhs]
vector:
  mode: qdrant
  host: qdrant.internal
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Cache.TTLSeconds)
	assert.Equal(t, "keyword", cfg.Routing.Strategy)
	assert.Equal(t, []string{"clinical", "nhs"}, cfg.Routing.KeywordTriggers["nihr"])
	assert.Equal(t, "qdrant", cfg.Vector.Mode)
	assert.Equal(t, "qdrant.internal", cfg.Vector.Host)
	// Untouched keys keep their defaults.
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("GRANTMESH_CACHE_TTL_SECONDS", "120")
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.Cache.TTLSeconds)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	write := func(t *testing.T, body string) string {
		path := filepath.Join(t.TempDir(), "grantmesh.yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	_, err := LoadFile(write(t, "routing:\n  strategy: roulette\n"))
	assert.ErrorContains(t, err, "routing.strategy")

	_, err = LoadFile(write(t, "hybrid:\n  semantic_weight: 0.9\n  keyword_weight: 0.3\n"))
	assert.ErrorContains(t, err, "hybrid weights")

	_, err = LoadFile(write(t, "vector:\n  mode: pinecone\n"))
	assert.ErrorContains(t, err, "vector.mode")
}

func TestManagerReloadsTunables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grantmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hybrid:
  semantic_weight: 0.7
  keyword_weight: 0.3
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	m, err := NewManager(path, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer m.Stop()

	reloaded := make(chan Tunables, 1)
	m.OnReload(func(tu Tunables) { reloaded <- tu })

	require.NoError(t, os.WriteFile(path, []byte(`
hybrid:
  semantic_weight: 0.5
  keyword_weight: 0.5
routing:
  keyword_triggers:
    ukri: [quantum]
`), 0o644))

	select {
	case tu := <-reloaded:
		assert.InDelta(t, 0.5, tu.Hybrid.SemanticWeight, 1e-9)
		assert.Equal(t, []string{"quantum"}, tu.KeywordTriggers["ukri"])
	case <-time.After(5 * time.Second):
		t.Fatal("reload handler not invoked")
	}
	assert.InDelta(t, 0.5, m.Tunables().Hybrid.SemanticWeight, 1e-9)
}

func TestManagerKeepsPreviousTunablesOnBadEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grantmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hybrid:\n  semantic_weight: 0.7\n  keyword_weight: 0.3\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	m, err := NewManager(path, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer m.Stop()

	require.NoError(t, os.WriteFile(path, []byte(": not yaml ["), 0o644))
	time.Sleep(200 * time.Millisecond)

	assert.InDelta(t, 0.7, m.Tunables().Hybrid.SemanticWeight, 1e-9)
}
