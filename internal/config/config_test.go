package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "deep-agents", cfg.Sandbox.Namespace)
	assert.Equal(t, 25, cfg.Sessions.MaxToolCalls)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.Timeout)
}

func TestLoadFileOverridesAndResolvesEnv(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-test-123")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
database:
  driver: postgres
  dsn: host=db user=agents dbname=agents
sessions:
  max_tool_calls: 10
llm:
  default_provider: ollama
  providers:
  - name: anthropic
    api_key_env: TEST_ANTHROPIC_KEY
  - name: ollama
    endpoint: http://ollama:11434
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 10, cfg.Sessions.MaxToolCalls)
	assert.Equal(t, "ollama", cfg.LLM.DefaultProvider)
	require.Len(t, cfg.LLM.Providers, 2)
	assert.Equal(t, "sk-test-123", cfg.LLM.Providers[0].APIKey)

	// Unset fields still get defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "deep-agents", cfg.Sandbox.Namespace)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}
