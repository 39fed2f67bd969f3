package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReturnsDefaultWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadParsesYAMLAndExpandsEnv(t *testing.T) {
	t.Setenv("LOOM_TEST_ENGINE", "claude-opus-4")
	path := filepath.Join(t.TempDir(), "loom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine: ${LOOM_TEST_ENGINE}
max_tokens: 2048
temperature: 0.2
autosave: false
tool_dirs:
  - ./tools
adapter_timeout: 30s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4", cfg.Engine)
	assert.Equal(t, 2048, cfg.MaxTokens)
	assert.Equal(t, 0.2, cfg.Temperature)
	assert.False(t, cfg.Autosave)
	assert.Equal(t, []string{"./tools"}, cfg.ToolDirs)
	assert.Equal(t, 30*time.Second, cfg.AdapterTimeout)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bogus_key: 1\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: a\n---\nengine: b\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
