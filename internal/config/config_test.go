package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "glucoalert", cfg.App.Name)
	assert.True(t, cfg.App.Development())
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, 2*time.Second, cfg.Engine.FetchTimeout)
	assert.Equal(t, 16, cfg.Engine.Lanes)
	assert.Equal(t, 30*24*time.Hour, cfg.History.Retention)
	assert.Equal(t, "0 */15 * * * *", cfg.DeviceAge.Schedule)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  env: production
nats:
  url: nats://nats:4222
  reconnect_wait: 5s
engine:
  fetch_timeout: 750ms
  lanes: 4
storage:
  sqlite_path: /var/lib/glucoalert/alerts.db
`), 0o644))

	t.Setenv("GLUCOALERT_ENGINE_LANES", "8")
	t.Setenv("GLUCOALERT_METRICS_ADDR", ":9999")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.App.Development())
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, 750*time.Millisecond, cfg.Engine.FetchTimeout)
	assert.Equal(t, 8, cfg.Engine.Lanes)
	assert.Equal(t, ":9999", cfg.Metrics.Addr)
	assert.Equal(t, "/var/lib/glucoalert/alerts.db", cfg.Storage.SQLitePath)
	// untouched keys keep their defaults
	assert.Equal(t, 1024, cfg.Notify.Buffer)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("GLUCOALERT_ENGINE_LANES", "0")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.lanes")
}

func chdir(t *testing.T, dir string) {
	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}
