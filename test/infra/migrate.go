package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"rentledger/migrations"
)

// AppName tags every connection opened by the suites so chaos only
// terminates our own backends.
const AppName = "rentledger-test"

// ApplyMigrations runs the embedded migrations against dsn and returns a pool.
// When isolate is true, a per-run schema is created first and dropped by the
// returned teardown func, so runs against a shared database do not collide.
func ApplyMigrations(ctx context.Context, dsn string, isolate bool, logger *zap.Logger) (*pgxpool.Pool, func(context.Context) error, error) {
	cleanup := func(context.Context) error { return nil }

	if isolate {
		schema := fmt.Sprintf("ledger_run_%d", time.Now().UnixNano())
		ident := pgx.Identifier{schema}.Sanitize()

		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connect for schema: %w", err)
		}
		if _, err := conn.Exec(ctx, "CREATE SCHEMA "+ident); err != nil {
			conn.Close(ctx)
			return nil, nil, fmt.Errorf("create schema %s: %w", schema, err)
		}
		conn.Close(ctx)

		dsn = withParam(dsn, "search_path", schema)
		cleanup = func(ctx context.Context) error {
			dropConn, err := pgx.Connect(ctx, dsn)
			if err != nil {
				return err
			}
			defer dropConn.Close(ctx)
			_, err = dropConn.Exec(ctx, "DROP SCHEMA IF EXISTS "+ident+" CASCADE")
			return err
		}
	}

	sqlDB, err := migrations.Open(dsn)
	if err != nil {
		return nil, nil, err
	}
	err = migrations.Up(sqlDB, logger)
	_ = sqlDB.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(withParam(dsn, "application_name", AppName))
	if err != nil {
		return nil, nil, fmt.Errorf("parse pool config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect pool: %w", err)
	}
	return pool, cleanup, nil
}

// withParam appends a runtime parameter to a URL-style DSN.
func withParam(dsn, key, value string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + value
}
