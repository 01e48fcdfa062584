package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-mailverify/internal/database"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	c, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "gotrs-mailverify", c.App.Name)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "postgres", c.Database.Driver)
	assert.Equal(t, 60*time.Second, c.Verify.ResultCleanupDelay)
	assert.Equal(t, 10*time.Minute, c.Verify.ResultRetention)
	assert.Equal(t, "*/30 * * * * *", c.Verify.SweepSchedule)
	assert.True(t, c.Metrics.Enabled)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
server:
  port: 9000
database:
  driver: sqlite3
  path: /tmp/mail.db
verify:
  result_cleanup_delay: 2m
  result_retention: 30m
`)
	t.Setenv("MAILVERIFY_SERVER_PORT", "9443")
	t.Setenv("MAILVERIFY_VERIFY_SMTP_TIMEOUT", "45s")

	c, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9443, c.Server.Port)
	assert.Equal(t, "sqlite3", c.Database.Driver)
	assert.Equal(t, 2*time.Minute, c.Verify.ResultCleanupDelay)
	assert.Equal(t, 45*time.Second, c.Verify.SMTPTimeout)

	conn := c.Database.Connection()
	assert.Equal(t, database.SQLite, conn.Type)
	assert.Equal(t, "/tmp/mail.db", conn.Path)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad port", "server:\n  port: 70000\n"},
		{"bad driver", "database:\n  driver: oracle\n"},
		{"retention shorter than cleanup", "verify:\n  result_cleanup_delay: 5m\n  result_retention: 1m\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.body)
			_, err := Load(dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "app:\n  env: production\nserver:\n  host: 127.0.0.1\n  port: 8181\n")

	c, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.True(t, c.App.IsProduction())
	assert.Equal(t, "127.0.0.1:8181", c.Server.GetServerAddr())

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestHotReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  port: 9000\n")

	var reloaded atomic.Int32
	OnReload(func(c *Config) {
		if c.Server.Port == 9100 {
			reloaded.Store(1)
		}
	})

	_, err := Load(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9100\n"), 0o600))

	assert.Eventually(t, func() bool {
		return reloaded.Load() == 1
	}, 5*time.Second, 50*time.Millisecond)
}
