package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `{"repositories":["acme/widgets"]}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.Equal(t, []string{"acme/widgets"}, cfg.Repositories)

	// A relative database path is resolved against the config directory.
	assert.Equal(t, filepath.Join(filepath.Dir(path), "issuemirror.db"), cfg.DatabasePath)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, `{"github_token":"from-file","webhook_secret":"from-file"}`)
	t.Setenv(EnvGithubToken, "from-env")
	t.Setenv(EnvWebhookSecret, "from-env-secret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.GitHubToken)
	assert.Equal(t, "from-env-secret", cfg.WebhookSecret)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestSaveAndReloadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := &Config{
		DatabasePath: "/var/lib/issuemirror/mirror.db",
		ListenAddr:   ":9000",
		Repositories: []string{"acme/widgets", "acme/gadgets"},
	}
	require.NoError(t, SaveConfig(cfg, path))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.DatabasePath, got.DatabasePath)
	assert.Equal(t, cfg.ListenAddr, got.ListenAddr)
	assert.Equal(t, cfg.Repositories, got.Repositories)
}

func TestCreateDefaultConfigDoesNotOverwrite(t *testing.T) {
	path := writeConfig(t, `{"listen_addr":":7777"}`)

	require.NoError(t, CreateDefaultConfig(path))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.ListenAddr)
}

func TestCreateDefaultConfigCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.json")

	require.NoError(t, CreateDefaultConfig(path))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.NotEmpty(t, cfg.Repositories)
}
