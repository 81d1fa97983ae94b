// Package config loads the engine configuration from a YAML or JSON file
// with environment overrides (K_SECTION__KEY).
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/hemolink/core/dispatch"
	"github.com/kilianp07/hemolink/core/ledger"
	"github.com/kilianp07/hemolink/core/pledge"
	"github.com/kilianp07/hemolink/infra/notifier"
)

// Config is the root configuration.
type Config struct {
	HTTP    HTTPConfig          `json:"http"`
	Store   StoreConfig         `json:"store"`
	MQTT    notifier.MQTTConfig `json:"mqtt"`
	Metrics MetricsConfig       `json:"metrics"`
	Engine  EngineConfig        `json:"engine"`
	Logging LoggingConfig       `json:"logging"`
}

// HTTPConfig defines the API listener.
type HTTPConfig struct {
	Addr string `json:"addr"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `json:"backend"`
	// Path is the SQLite database file; ignored for the memory backend.
	Path string `json:"path"`
}

// MetricsConfig wires the observability sinks.
type MetricsConfig struct {
	// PrometheusAddr exposes /metrics when non-empty.
	PrometheusAddr string `json:"prometheus_addr"`
	InfluxURL      string `json:"influx_url"`
	InfluxToken    string `json:"influx_token"`
	InfluxOrg      string `json:"influx_org"`
	InfluxBucket   string `json:"influx_bucket"`
}

// EngineConfig groups the engine component settings.
type EngineConfig struct {
	Dispatch dispatch.Config `json:"dispatch"`
	Ledger   ledger.Config   `json:"ledger"`
	Pledge   pledge.Config   `json:"pledge"`
}

// LoggingConfig tunes the zerolog output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level"`
	// Pretty switches to the human console writer.
	Pretty bool `json:"pretty"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "sqlite"
	}
	if c.Store.Backend == "sqlite" && c.Store.Path == "" {
		c.Store.Path = "hemolink.db"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "blood"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Engine.Dispatch.SetDefaults()
	c.Engine.Ledger.SetDefaults()
	c.Engine.Pledge.SetDefaults()
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Store.Backend != "sqlite" && c.Store.Backend != "memory" {
		return fmt.Errorf("unknown store backend %s", c.Store.Backend)
	}
	if c.Store.Backend == "sqlite" && c.Store.Path == "" {
		return fmt.Errorf("store path is required for the sqlite backend")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %s", c.Logging.Level)
	}
	return nil
}

// Load reads the file at path, applies environment overrides, defaults and
// validation.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
