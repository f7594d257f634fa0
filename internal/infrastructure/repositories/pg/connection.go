package pg

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// ConnectionConfig holds PostgreSQL connection configuration
type ConnectionConfig struct {
	URI             string        `yaml:"uri" env:"AUDIT_PG_URI"`
	MaxConns        int32         `yaml:"max_conns" env:"AUDIT_PG_MAX_CONNS" env-default:"4"`
	MinConns        int32         `yaml:"min_conns" env:"AUDIT_PG_MIN_CONNS" env-default:"1"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"AUDIT_PG_MAX_CONN_LIFETIME" env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"AUDIT_PG_MAX_CONN_IDLE_TIME" env-default:"30m"`
	HealthTimeout   time.Duration `yaml:"health_timeout" env:"AUDIT_PG_HEALTH_TIMEOUT" env-default:"10s"`
}

// DefaultConnectionConfig returns defaults sized for a single sync process
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		MaxConns:        4,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		HealthTimeout:   10 * time.Second,
	}
}

// Validate checks the connection configuration
func (c ConnectionConfig) Validate() error {
	if c.URI == "" {
		return errors.New("postgres uri is required")
	}
	if c.MaxConns <= 0 {
		return errors.New("max_conns must be positive")
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		return errors.Errorf("min_conns must be within [0, %d]", c.MaxConns)
	}
	return nil
}

// ConnectionManager owns the PostgreSQL pool
type ConnectionManager struct {
	config ConnectionConfig
	pool   atomic.Pointer[pgxpool.Pool]
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{config: config}
}

// Connect creates the pool and checks that the database answers
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	if err := cm.config.Validate(); err != nil {
		return errors.Wrap(err, "invalid connection config")
	}

	poolConfig, err := pgxpool.ParseConfig(cm.config.URI)
	if err != nil {
		return errors.Wrap(err, "failed to parse connection URI")
	}
	poolConfig.MaxConns = cm.config.MaxConns
	poolConfig.MinConns = cm.config.MinConns
	poolConfig.MaxConnLifetime = cm.config.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cm.config.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return errors.Wrap(err, "failed to create connection pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, cm.config.HealthTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return errors.Wrap(err, "failed to ping database")
	}

	cm.pool.Store(pool)
	return nil
}

// Close closes the connection pool
func (cm *ConnectionManager) Close() error {
	if pool := cm.pool.Swap(nil); pool != nil {
		pool.Close()
	}
	return nil
}

// Pool returns the current connection pool
func (cm *ConnectionManager) Pool() *pgxpool.Pool {
	return cm.pool.Load()
}

// WithTx executes fn within a read-committed transaction
func (cm *ConnectionManager) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	pool := cm.Pool()
	if pool == nil {
		return errors.New("connection pool not initialized")
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "failed to commit transaction")
}

// HealthStatus returns pool statistics
func (cm *ConnectionManager) HealthStatus(ctx context.Context) HealthStatus {
	status := HealthStatus{CheckedAt: time.Now()}
	pool := cm.Pool()
	if pool == nil {
		status.Error = "connection pool not initialized"
		return status
	}

	pingCtx, cancel := context.WithTimeout(ctx, cm.config.HealthTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		status.Error = err.Error()
	} else {
		status.IsHealthy = true
	}

	stat := pool.Stat()
	status.TotalConns = stat.TotalConns()
	status.IdleConns = stat.IdleConns()
	status.AcquiredConns = stat.AcquiredConns()
	return status
}

// HealthStatus provides connection pool health information
type HealthStatus struct {
	IsHealthy     bool      `json:"isHealthy"`
	TotalConns    int32     `json:"totalConns"`
	IdleConns     int32     `json:"idleConns"`
	AcquiredConns int32     `json:"acquiredConns"`
	Error         string    `json:"error,omitempty"`
	CheckedAt     time.Time `json:"checkedAt"`
}

// String returns a human-readable health status
func (hs HealthStatus) String() string {
	status := "HEALTHY"
	if !hs.IsHealthy {
		status = "UNHEALTHY"
	}
	return fmt.Sprintf("PostgreSQL: %s (total:%d, idle:%d, acquired:%d) at %s",
		status, hs.TotalConns, hs.IdleConns, hs.AcquiredConns,
		hs.CheckedAt.Format(time.RFC3339))
}
