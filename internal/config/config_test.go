package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default().MaxTurns, cfg.MaxTurns)
	require.Equal(t, Default().CacheTTLHours, cfg.CacheTTLHours)
}

func TestLoadOverridesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_turns: 10\ncache_ttl_hours: 2\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 10, cfg.MaxTurns)
	require.Equal(t, 2, cfg.CacheTTLHours)
	// Untouched keys keep their defaults.
	require.Equal(t, Default().ShortlistMaxCandidates, cfg.ShortlistMaxCandidates)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("COREX_MAX_TURNS", "42")
	t.Setenv("COREX_EMBEDDING_MODEL", "custom-model")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, 42, cfg.MaxTurns)
	require.Equal(t, "custom-model", cfg.EmbeddingModel)
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("research_local_document_roots: [\"/a\"]\n"), 0o644))

	w, err := NewWatcher(path, []string{"/a"}, nil)
	require.NoError(t, err)
	defer w.Close()
	require.Equal(t, []string{"/a"}, w.LocalDocumentRoots())

	require.NoError(t, os.WriteFile(path, []byte("research_local_document_roots: [\"/a\", \"/b\"]\n"), 0o644))

	require.Eventually(t, func() bool {
		roots := w.LocalDocumentRoots()
		return len(roots) == 2
	}, 2*time.Second, 20*time.Millisecond)
}
