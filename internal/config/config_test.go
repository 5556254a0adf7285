package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadDefaultsWithKey(t *testing.T) {
	cfg, err := NewLoader().WithLookup(envMap(map[string]string{
		"BROWSERFLOW_SECURITY_ENCRYPTION_KEY": "k",
	})).Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, uint(3), cfg.Session.LaunchAttempts)
	assert.Equal(t, 150*time.Millisecond, cfg.Session.OptimizeDeadline)
	assert.Equal(t, 1000, cfg.Selector.Options().Threshold)
	assert.Equal(t, 4, cfg.Selector.Options().MaxDepth)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "browserflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
selector:
  threshold: 200
session:
  navigation_wait: 3s
security:
  encryption_key: from-file
`), 0o600))

	cfg, err := NewLoader().WithPath(path).WithLookup(envMap(map[string]string{
		"BROWSERFLOW_SERVER_ADDR":                  ":9100",
		"BROWSERFLOW_SESSION_BLOCKED_URL_PATTERNS": "*ads*, *track*",
		"BROWSERFLOW_BROWSER_MAX_CONCURRENT":       "4",
	})).Load()
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, 200, cfg.Selector.Threshold)
	assert.Equal(t, 3*time.Second, cfg.Session.NavigationWait)
	assert.Equal(t, "from-file", cfg.Security.EncryptionKey)
	assert.Equal(t, []string{"*ads*", "*track*"}, cfg.Session.BlockedURLPatterns)
	assert.Equal(t, int64(4), cfg.Browser.MaxConcurrent)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithPath(filepath.Join(t.TempDir(), "absent.yaml")).WithLookup(envMap(map[string]string{
		"BROWSERFLOW_SECURITY_ENCRYPTION_KEY": "k",
	})).Load()
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Browser.Launcher)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing key", env: map[string]string{}},
		{name: "unknown launcher", env: map[string]string{
			"BROWSERFLOW_SECURITY_ENCRYPTION_KEY": "k",
			"BROWSERFLOW_BROWSER_LAUNCHER":        "lambda",
		}},
		{name: "remote without url", env: map[string]string{
			"BROWSERFLOW_SECURITY_ENCRYPTION_KEY": "k",
			"BROWSERFLOW_BROWSER_LAUNCHER":        "remote",
		}},
		{name: "bad duration", env: map[string]string{
			"BROWSERFLOW_SECURITY_ENCRYPTION_KEY": "k",
			"BROWSERFLOW_SESSION_NAVIGATION_WAIT": "soon",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().WithLookup(envMap(tt.env)).Load()
			assert.Error(t, err)
		})
	}
}
