// Package database owns the relational store: the pgx connection pool used by
// every persistent component and the embedded schema migrations.
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// Queryer is the narrow slice of *pgxpool.Pool the stores depend on. Keeping
// stores off the concrete pool type keeps their constructors testable.
type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPool creates a pgx connection pool from the configuration and verifies
// connectivity with a single ping bounded by the configured connect timeout.
func NewPool(ctx context.Context, config *Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(config.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolConfig.MaxConns = config.MaxConns
	poolConfig.MinConns = config.MinConns
	poolConfig.MaxConnLifetime = config.MaxConnLifetime
	poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	poolConfig.ConnConfig.ConnectTimeout = config.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errs.Unavailable("database.NewPool", err)
	}

	return pool, nil
}

// Module provides the connection pool to the fx application and ties its
// lifetime to the app lifecycle. Migrations run on start when configured.
var Module = fx.Provide(
	func(v *viper.Viper, lc fx.Lifecycle, logger logging.Interface) (*pgxpool.Pool, error) {
		config, err := NewConfig(
			WithViper(v),
			WithAnotherLog(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating database config: %+v", err)
		}
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("error validating database config: %+v", err)
		}

		pool, err := NewPool(context.Background(), config)
		if err != nil {
			return nil, err
		}

		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if !config.MigrateOnStart {
					return nil
				}
				logger.Info("applying database migrations")
				return Migrate(ctx, config, logger)
			},
			OnStop: func(ctx context.Context) error {
				pool.Close()
				return nil
			},
		})

		logger.WithField("host", config.Host).
			WithField("database", config.Database).
			Info("database pool established")
		return pool, nil
	})
