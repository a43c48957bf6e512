package infra

import (
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// DSNEnv names the variable that points the suites at an existing database.
const DSNEnv = "LEDGER_TEST_PG_DSN"

type PGContainer struct {
	C *postgres.PostgresContainer
}

// StartPostgres16 starts a Postgres 16 container and returns a DSN. If
// overrideDSN or LEDGER_TEST_PG_DSN is set, it reuses that database and
// shared reports true.
func StartPostgres16(ctx context.Context, overrideDSN string) (pg *PGContainer, dsn string, shared bool, err error) {
	if overrideDSN != "" {
		return &PGContainer{}, overrideDSN, true, nil
	}
	if dsn := envDSN(); dsn != "" {
		return &PGContainer{}, dsn, true, nil
	}

	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("rentledger"),
		postgres.WithUsername("rentledger"),
		postgres.WithPassword("rentledger"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, "", false, err
	}

	dsn, err = pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, "", false, err
	}
	return &PGContainer{C: pgC}, dsn, false, nil
}

func envDSN() string { return os.Getenv(DSNEnv) }

func (p *PGContainer) Terminate(ctx context.Context) error {
	if p == nil || p.C == nil {
		return nil
	}
	return p.C.Terminate(ctx)
}

// DockerAvailable reports whether a local Docker daemon answers.
func DockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
