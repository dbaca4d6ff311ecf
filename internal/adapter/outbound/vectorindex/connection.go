// Package vectorindex implements the vector index port on pgvector and Weaviate.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig represents pgvector connection pool configuration.
type PoolConfig struct {
	DSN             string
	MinConnections  int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// Validate validates the pool configuration.
func (c PoolConfig) Validate() error {
	if c.DSN == "" {
		return errors.New("dsn is required")
	}
	if c.MinConnections < 0 {
		return errors.New("min connections cannot be negative")
	}
	return nil
}

// NewDatabaseConnection creates a new database connection pool. The pool
// dials lazily; it is pinged here only when PingTimeout is set.
// pool_max_conns and search_path travel in the DSN.
func NewDatabaseConnection(ctx context.Context, config PoolConfig) (*pgxpool.Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MinConns = int32(config.MinConnections) //nolint:gosec // validated above
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}
	if config.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if config.PingTimeout <= 0 {
		return pool, nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, config.PingTimeout)
	defer cancel()

	if pingErr := pool.Ping(pingCtx); pingErr != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", pingErr)
	}
	return pool, nil
}
