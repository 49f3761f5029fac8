package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/logging"
	"github.com/ekaya-inc/ekaya-gateway/pkg/retry"
)

// DB wraps a pgxpool connection pool.
type DB struct {
	*pgxpool.Pool
}

// Config holds database connection configuration.
type Config struct {
	URL             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// NewConnection creates a new database connection pool. Transient dial
// failures (Postgres still starting, DNS not ready) are retried.
func NewConnection(ctx context.Context, cfg *Config, logger *zap.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 25
	}
	poolConfig.MinConns = cfg.MinConnections

	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	if poolConfig.MaxConnLifetime == 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}

	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime == 0 {
		poolConfig.MaxConnIdleTime = time.Minute * 30
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	attempt := 0
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		attempt++
		pingErr := pool.Ping(ctx)
		if pingErr != nil {
			logger.Warn("Database not reachable yet",
				zap.Int("attempt", attempt),
				zap.String("url", logging.SanitizeConnectionString(cfg.URL)),
				zap.String("error", logging.SanitizeError(pingErr)))
		}
		return pingErr
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// OpenSQL exposes the pool as a *sql.DB for guarded transactions and
// migrations. With instrument set, the connector is wrapped by otelsql and
// connection pool stats are registered on the global meter provider.
// The returned close func releases the *sql.DB (not the pool).
func (db *DB) OpenSQL(instrument bool, logger *zap.Logger) (*sql.DB, func(), error) {
	if !instrument {
		sqlDB := stdlib.OpenDBFromPool(db.Pool)
		return sqlDB, func() { _ = sqlDB.Close() }, nil
	}

	attrs := otelsql.WithAttributes(semconv.DBSystemPostgreSQL)
	sqlDB := otelsql.OpenDB(stdlib.GetPoolConnector(db.Pool), attrs,
		otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))

	reg, err := otelsql.RegisterDBStatsMetrics(sqlDB, attrs)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to register DB stats metrics: %w", err)
	}
	logger.Info("Database instrumentation enabled")

	return sqlDB, func() {
		if err := reg.Unregister(); err != nil {
			logger.Warn("Failed to unregister DB stats metrics", zap.Error(err))
		}
		_ = sqlDB.Close()
	}, nil
}
