package infra

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap/zaptest"
)

// Postgres returns a migrated pool for package integration tests. It skips
// the test in short mode or when neither Docker nor LEDGER_TEST_PG_DSN is
// available. Shared databases get a private schema per test.
func Postgres(t testing.TB) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if !DockerAvailable(ctx) && envDSN() == "" {
		t.Skipf("no docker and no %s", DSNEnv)
	}
	pgC, dsn, shared, err := StartPostgres16(ctx, "")
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	pool, teardown, err := ApplyMigrations(ctx, dsn, shared, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	})
	return pool
}
