package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
http:
  addr: ":9090"
store:
  backend: sqlite
  path: /tmp/hemolink-test.db
mqtt:
  broker: tcp://localhost:1883
  topic_prefix: blood-test
engine:
  dispatch:
    search_radius_km: 75
    rank_limit: 20
logging:
  level: debug
  pretty: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTP.Addr)
	require.Equal(t, "/tmp/hemolink-test.db", cfg.Store.Path)
	require.Equal(t, "blood-test", cfg.MQTT.TopicPrefix)
	require.Equal(t, 75.0, cfg.Engine.Dispatch.SearchRadiusKm)
	require.Equal(t, 20, cfg.Engine.Dispatch.RankLimit)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_JSONWithDefaults(t *testing.T) {
	path := writeConfig(t, "config.json", `{"store": {"backend": "memory"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, "memory", cfg.Store.Backend)
	require.Equal(t, "blood", cfg.MQTT.TopicPrefix)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, 50.0, cfg.Engine.Dispatch.SearchRadiusKm)
	require.Equal(t, 30, cfg.Engine.Ledger.CooldownDays)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
store:
  backend: memory
`)
	t.Setenv("K_HTTP__ADDR", ":7070")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.HTTP.Addr)
}

func TestLoad_Rejections(t *testing.T) {
	_, err := Load(writeConfig(t, "config.toml", ""))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "config.yaml", "store:\n  backend: redis\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "config.yaml", "logging:\n  level: verbose\n"))
	require.Error(t, err)
}
