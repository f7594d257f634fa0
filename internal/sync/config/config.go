package config

import (
	"fmt"
	"slices"
	"time"

	"netsync/internal/domain/models"
	"netsync/internal/sync/compare"
	"netsync/internal/sync/interfaces"
	"netsync/internal/sync/manager"
	"netsync/internal/sync/synchronizer"
	"netsync/internal/sync/utils"
)

// SyncConfig holds configuration for the reconciliation engine
type SyncConfig struct {
	// MaxConcurrentDevices bounds the devices reconciled in parallel
	MaxConcurrentDevices int `yaml:"max_concurrent_devices" env:"SYNC_MAX_CONCURRENT_DEVICES"`

	// DeviceTimeout bounds the work of one device
	DeviceTimeout time.Duration `yaml:"device_timeout" env:"SYNC_DEVICE_TIMEOUT"`

	// BatchSize is the number of records per bulk write
	BatchSize int `yaml:"batch_size" env:"SYNC_BATCH_SIZE"`

	// Retry applies to bulk writes
	Retry utils.RetryConfig `yaml:"retry" env-prefix:"SYNC_RETRY_"`

	CreateMissing  bool `yaml:"create_missing" env:"SYNC_CREATE_MISSING"`
	UpdateExisting bool `yaml:"update_existing" env:"SYNC_UPDATE_EXISTING"`

	// AllowUnresolvedNeighbors skips cable candidates whose far end is unknown
	// instead of reporting them as failures
	AllowUnresolvedNeighbors bool `yaml:"allow_unresolved_neighbors" env:"SYNC_ALLOW_UNRESOLVED_NEIGHBORS"`

	// Fields restricts the compared attributes per kind name
	Fields map[string][]string `yaml:"fields"`
}

// DefaultSyncConfig returns default synchronization configuration
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		MaxConcurrentDevices: 8,
		DeviceTimeout:        5 * time.Minute,
		BatchSize:            50,
		Retry:                utils.DefaultRetryConfig(),
		CreateMissing:        true,
		UpdateExisting:       true,
	}
}

// ProductionConfig returns configuration for large inventories
func ProductionConfig() SyncConfig {
	config := DefaultSyncConfig()

	config.MaxConcurrentDevices = 16
	config.DeviceTimeout = 10 * time.Minute
	config.BatchSize = 100
	config.Retry.MaxRetries = 5
	config.Retry.MaxDelay = 30 * time.Second

	return config
}

// TestSyncConfig returns configuration optimized for testing
func TestSyncConfig() SyncConfig {
	config := DefaultSyncConfig()

	// Single worker and small batches for test predictability
	config.MaxConcurrentDevices = 1
	config.BatchSize = 2
	config.DeviceTimeout = 10 * time.Second
	config.Retry = utils.NoRetryConfig()

	return config
}

// Validate validates the sync configuration
func (c SyncConfig) Validate() error {
	if c.MaxConcurrentDevices <= 0 {
		return fmt.Errorf("max_concurrent_devices must be positive")
	}
	if c.DeviceTimeout <= 0 {
		return fmt.Errorf("device_timeout must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if _, err := c.fieldSelection(); err != nil {
		return err
	}
	return nil
}

// ManagerConfig returns the orchestrator configuration
func (c SyncConfig) ManagerConfig() manager.Config {
	return manager.Config{
		MaxConcurrentDevices: c.MaxConcurrentDevices,
		DeviceTimeout:        c.DeviceTimeout,
		Batch: synchronizer.BatchApplyConfig{
			BatchSize: c.BatchSize,
			Retry:     c.Retry,
		},
	}
}

// Options returns the run options the configuration implies. Run flags are
// layered on top by the caller.
func (c SyncConfig) Options() (interfaces.Options, error) {
	fields, err := c.fieldSelection()
	if err != nil {
		return interfaces.Options{}, err
	}
	opts := interfaces.DefaultOptions()
	opts.CreateMissing = c.CreateMissing
	opts.UpdateExisting = c.UpdateExisting
	opts.AllowUnresolvedNeighbors = c.AllowUnresolvedNeighbors
	opts.Fields = fields
	return opts, nil
}

func (c SyncConfig) fieldSelection() (map[models.EntityKind][]string, error) {
	if len(c.Fields) == 0 {
		return nil, nil
	}
	out := make(map[models.EntityKind][]string, len(c.Fields))
	for name, fields := range c.Fields {
		kind, err := models.ParseEntityKind(name)
		if err != nil {
			return nil, fmt.Errorf("fields: %w", err)
		}
		known := compare.FieldNames(kind)
		for _, f := range fields {
			if !slices.Contains(known, f) {
				return nil, fmt.Errorf("fields: %s has no attribute %q", kind, f)
			}
		}
		out[kind] = fields
	}
	return out, nil
}
