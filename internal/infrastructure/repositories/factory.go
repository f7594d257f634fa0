package repositories

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"netsync/internal/domain/ports"
	"netsync/internal/infrastructure/repositories/mem"
	"netsync/internal/infrastructure/repositories/pg"
)

// RepositoryType represents the type of repository backend
type RepositoryType string

const (
	RepositoryTypeMemory     RepositoryType = "memory"
	RepositoryTypePostgreSQL RepositoryType = "postgresql"
)

// Config holds configuration for the audit log backend
type Config struct {
	Enabled bool           `yaml:"enabled" env:"AUDIT_ENABLED"`
	Type    RepositoryType `yaml:"type" env:"AUDIT_TYPE" env-default:"memory"`

	PostgreSQL pg.ConnectionConfig `yaml:"postgresql"`

	// Migrate applies pending schema migrations on open
	Migrate bool `yaml:"migrate" env:"AUDIT_MIGRATE"`
}

// DefaultConfig returns the default audit configuration, disabled
func DefaultConfig() Config {
	return Config{
		Type:       RepositoryTypeMemory,
		PostgreSQL: pg.DefaultConnectionConfig(),
		Migrate:    true,
	}
}

// Validate checks the audit configuration
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Type {
	case RepositoryTypeMemory:
		return nil
	case RepositoryTypePostgreSQL:
		return c.PostgreSQL.Validate()
	default:
		return fmt.Errorf("unsupported repository type: %s", c.Type)
	}
}

// Factory creates change log instances based on configuration
type Factory struct {
	config Config
	logger logr.Logger
}

// NewFactory creates a new repository factory
func NewFactory(config Config, logger logr.Logger) *Factory {
	return &Factory{
		config: config,
		logger: logger.WithName("audit"),
	}
}

// CreateChangeLog opens the configured change log. It returns nil when auditing is disabled.
func (f *Factory) CreateChangeLog(ctx context.Context) (ports.ChangeLog, error) {
	if !f.config.Enabled {
		return nil, nil
	}
	if err := f.config.Validate(); err != nil {
		return nil, err
	}

	switch f.config.Type {
	case RepositoryTypeMemory:
		return mem.NewChangeLog(), nil
	case RepositoryTypePostgreSQL:
		return f.createPostgreSQLChangeLog(ctx)
	default:
		return nil, fmt.Errorf("unsupported repository type: %s", f.config.Type)
	}
}

func (f *Factory) createPostgreSQLChangeLog(ctx context.Context) (ports.ChangeLog, error) {
	connManager := pg.NewConnectionManager(f.config.PostgreSQL)
	if err := connManager.Connect(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to connect to PostgreSQL")
	}

	if f.config.Migrate {
		if err := connManager.RunMigrations(ctx, f.logger); err != nil {
			_ = connManager.Close()
			return nil, errors.Wrap(err, "failed to migrate audit schema")
		}
	}

	f.logger.Info("Audit log opened", "backend", f.config.Type)
	return pg.NewChangeLog(connManager), nil
}
