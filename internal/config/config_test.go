package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 60*time.Second, cfg.Plugins.CallTimeout)
	assert.True(t, cfg.Plugins.EnableHotReload)
	assert.Equal(t, 4, cfg.Requests.ReconcileConcurrency)
	assert.Equal(t, 10*time.Minute, cfg.Requests.BackoffMax)
	assert.Equal(t, uint32(5), cfg.Outbound.BreakerMaxFailures)
	assert.Equal(t, 20.0, cfg.Outbound.RatePerSecond)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redseat.yaml")
	content := `
server:
  port: 9090
database:
  data_dir: /var/lib/redseat
requests:
  reconcile_interval: 1m
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("REDSEAT_LOG_LEVEL", "warn")
	t.Setenv("REDSEAT_RECONCILE_CONCURRENCY", "8")

	cm := NewConfigManager()
	require.NoError(t, cm.LoadConfig(path))
	cfg := cm.GetConfig()

	// file values survive, defaults do not clobber them
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Requests.ReconcileInterval)
	// env wins over file
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 8, cfg.Requests.ReconcileConcurrency)
	// derived
	assert.Equal(t, filepath.Join("/var/lib/redseat", "redseat.db"), cfg.Database.DatabasePath)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad port", env: map[string]string{"REDSEAT_PORT": "70000"}},
		{name: "bad db type", env: map[string]string{"REDSEAT_DB_TYPE": "mysql"}},
		{name: "bad log format", env: map[string]string{"REDSEAT_LOG_FORMAT": "xml"}},
		{name: "unparsable duration", env: map[string]string{"REDSEAT_RECONCILE_INTERVAL": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cm := NewConfigManager()
			assert.Error(t, cm.LoadConfig(""))
		})
	}
}

func TestLoadConfig_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redseat.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = 1"), 0644))

	err := NewConfigManager().LoadConfig(path)
	assert.ErrorContains(t, err, "unsupported config file format")
}

func TestAddWatcher(t *testing.T) {
	cm := NewConfigManager()
	called := make(chan *Config, 1)
	cm.AddWatcher(func(_, newConfig *Config) { called <- newConfig })

	require.NoError(t, cm.LoadConfig(""))

	select {
	case cfg := <-called:
		assert.Equal(t, 8080, cfg.Server.Port)
	case <-time.After(time.Second):
		t.Fatal("watcher not called")
	}
}
