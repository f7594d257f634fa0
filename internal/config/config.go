package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"

	"netsync/internal/infrastructure/repositories"
	"netsync/internal/sync/clients"
	syncconfig "netsync/internal/sync/config"
	"netsync/internal/sync/monitoring"
)

// Log output formats
const (
	LogFormatKlog = "klog"
	LogFormatStd  = "std"
)

type (
	// Config is the process configuration
	Config struct {
		App     App                      `yaml:"app"`
		Log     Log                      `yaml:"logger"`
		Remote  clients.InventoryConfig  `yaml:"remote"`
		Sync    syncconfig.SyncConfig    `yaml:"sync"`
		Audit   repositories.Config      `yaml:"audit"`
		Metrics monitoring.MetricsConfig `yaml:"metrics"`
	}

	// App identifies the process
	App struct {
		Name    string `yaml:"name" env:"APP_NAME"`
		Version string `yaml:"version" env:"APP_VERSION"`
	}

	// Log configures the logr sink
	Log struct {
		// Verbosity enables V(n) logs up to n
		Verbosity int    `yaml:"verbosity" env:"LOG_VERBOSITY"`
		Format    string `yaml:"format" env:"LOG_FORMAT"`
	}
)

// Default returns the configuration used when neither file nor environment
// set a value
func Default() *Config {
	return &Config{
		App: App{
			Name:    "netsync",
			Version: "v0.1.0",
		},
		Log: Log{
			Format: LogFormatKlog,
		},
		Remote:  clients.DefaultInventoryConfig(),
		Sync:    syncconfig.DefaultSyncConfig(),
		Audit:   repositories.DefaultConfig(),
		Metrics: monitoring.DefaultMetricsConfig(),
	}
}

// NewConfig loads defaults, then the file at path when set, then the environment
func NewConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	return cfg, nil
}

// Validate checks every section. The remote section is checked by the caller
// because an in-memory run does not need it.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case LogFormatKlog, LogFormatStd:
	default:
		return fmt.Errorf("logger: unknown format %q", c.Log.Format)
	}
	if c.Log.Verbosity < 0 {
		return fmt.Errorf("logger: verbosity cannot be negative")
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.Audit.Validate(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics: addr is required when enabled")
	}
	return nil
}

// Usage describes the environment variables the configuration reads
func Usage() string {
	desc, err := cleanenv.GetDescription(Default(), nil)
	if err != nil {
		return ""
	}
	return desc
}
