package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(t.TempDir(), envFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Empty(t, cfg.APIKey)
	assert.NoError(t, cfg.Validate())
}

func TestLoadPrecedence(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, FileName), "model: from-yaml\nconcurrency: 2\nrequests_per_minute: 10\ndoc_style: numpy\n")
	writeFile(t, filepath.Join(root, ".env"), "OPENAI_API_KEY=from-dotenv\nDOCPATCH_MODEL=from-dotenv\nOPENAI_BASE_URL=http://dotenv.local/v1\n")

	cfg, err := Load(root, envFrom(map[string]string{
		EnvModel: "from-env",
	}))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Model)
	assert.Equal(t, "from-dotenv", cfg.APIKey)
	assert.Equal(t, "http://dotenv.local/v1", cfg.BaseURL)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 10, cfg.RequestsPerMinute)
	assert.Equal(t, int64(1_000_000), cfg.MaxFileSize)
	require.NoError(t, cfg.Validate())
}

func TestLoadEmptyEnvDoesNotOverride(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".env"), "OPENAI_API_KEY=from-dotenv\n")

	cfg, err := Load(root, envFrom(map[string]string{EnvAPIKey: ""}))
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.APIKey)
}

func TestLoadRejectsUnknownYAMLKeys(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, FileName), "modle: typo\n")

	_, err := Load(root, envFrom(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), FileName)
}

func TestLoadEmptyYAML(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, FileName), "")

	cfg, err := Load(root, envFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadBadConcurrencyEnv(t *testing.T) {
	t.Parallel()

	_, err := Load(t.TempDir(), envFrom(map[string]string{"DOCPATCH_CONCURRENCY": "many"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DOCPATCH_CONCURRENCY")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "zero concurrency", mutate: func(c *Config) { c.Concurrency = 0 }},
		{name: "negative rate", mutate: func(c *Config) { c.RequestsPerMinute = -1 }},
		{name: "unlimited rate", mutate: func(c *Config) { c.RequestsPerMinute = 0 }, ok: true},
		{name: "no model", mutate: func(c *Config) { c.Model = "" }},
		{name: "bad base url", mutate: func(c *Config) { c.BaseURL = "not a url" }},
		{name: "base url", mutate: func(c *Config) { c.BaseURL = "http://localhost:11434/v1" }, ok: true},
		{name: "hot temperature", mutate: func(c *Config) { c.Temperature = 3 }},
		{name: "unlimited max size", mutate: func(c *Config) { c.MaxFileSize = 0 }, ok: true},
		{name: "negative max size", mutate: func(c *Config) { c.MaxFileSize = -1 }},
		{name: "style path", mutate: func(c *Config) { c.DocStyle = "../numpy" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(&cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}
