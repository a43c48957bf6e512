package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"rentledger/agreement"
	"rentledger/auth"
	"rentledger/dispute"
	"rentledger/escrow"
	"rentledger/events"
	"rentledger/ledger"
	"rentledger/lock"
	"rentledger/payment"
	"rentledger/test/actors"
	"rentledger/test/chaos"
	"rentledger/test/infra"
	"rentledger/test/oracles"
	"rentledger/token"
)

var (
	flDuration    = flag.Duration("duration", 5*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 4, "number of tenant/landlord pairs")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", false, "terminate random Postgres backends during the run")
)

const (
	admin    = "GADMIN"
	arbiter  = "GARBITER"
	feeSink  = "GFEES"
	currency = "USDC"
	rent     = 1000
	funding  = 50_000
)

var start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type world struct {
	stack      *actors.Stack
	tenants    []string
	landlords  []string
	agents     []string
	agreements []string
	minted     int64
}

func (w *world) holders() []string {
	out := []string{feeSink}
	out = append(out, w.tenants...)
	out = append(out, w.landlords...)
	return append(out, w.agents...)
}

func newStack(store ledger.Store) *actors.Stack {
	clock := ledger.NewManualClock(start)
	exec := ledger.NewExecutor(store, lock.NewLocal(), ledger.WithClock(clock))
	authz := auth.ContextAuthorizer{}
	tokens := token.NewLedger()
	return &actors.Stack{
		Clock:      clock,
		Agreements: agreement.NewService(exec, authz),
		Payments:   payment.NewProcessor(exec, authz, tokens, admin, nil),
		Escrows:    escrow.NewManager(exec, authz, tokens),
		Disputes:   dispute.NewHandler(exec, authz, tokens),
		Tokens:     token.NewService(exec, authz, tokens, admin),
	}
}

// seed funds every tenant and signs one agreement per pair. Even pairs use an
// agent; odd pairs send their commission to the platform collector.
func seed(t *testing.T, ctx context.Context, s *actors.Stack, pairs int) *world {
	t.Helper()
	w := &world{stack: s}
	if err := s.Payments.SetPlatformFeeCollector(auth.WithCaller(ctx, admin), admin, feeSink); err != nil {
		t.Fatalf("set fee collector: %v", err)
	}
	for i := 0; i < pairs; i++ {
		tenant := fmt.Sprintf("GTENANT%d", i)
		landlord := fmt.Sprintf("GLANDLORD%d", i)
		id := fmt.Sprintf("AGR-%d", i)

		if err := s.Tokens.Mint(auth.WithCaller(ctx, admin), admin, currency, tenant, funding); err != nil {
			t.Fatalf("mint %s: %v", tenant, err)
		}
		w.minted += funding

		var agent *string
		if i%2 == 0 {
			a := fmt.Sprintf("GAGENT%d", i)
			agent = &a
			w.agents = append(w.agents, a)
		}
		tctx := auth.WithCaller(ctx, tenant)
		if _, err := s.Agreements.Create(tctx, agreement.CreateParams{
			ID:              id,
			Landlord:        landlord,
			Tenant:          tenant,
			Agent:           agent,
			MonthlyRent:     rent,
			SecurityDeposit: 2 * rent,
			StartDate:       start,
			EndDate:         start.AddDate(1, 0, 0),
			CommissionRate:  500,
			PaymentToken:    currency,
		}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
		if _, err := s.Agreements.Sign(tctx, tenant, id); err != nil {
			t.Fatalf("sign %s: %v", id, err)
		}
		w.tenants = append(w.tenants, tenant)
		w.landlords = append(w.landlords, landlord)
		w.agreements = append(w.agreements, id)
	}
	return w
}

// runActors starts payers, escrowers and closers for every pair plus one clock
// actor. tick is called every checkEvery until the duration elapses.
func runActors(t *testing.T, ctx context.Context, w *world, tally *actors.Tally, reg *actors.Registry, extra func(g *errgroup.Group, ctx context.Context, stop <-chan struct{}), tick func(ctx context.Context) bool) {
	t.Helper()
	g, gctx := errgroup.WithContext(ctx)
	stop := make(chan struct{})
	s := w.stack

	for i := range w.agreements {
		id, tenant, landlord := w.agreements[i], w.tenants[i], w.landlords[i]
		g.Go(func() error { return actors.Payer(gctx, s, tally, id, tenant, rent, stop) })
		g.Go(func() error {
			return actors.Escrower(gctx, s, tally, reg, actors.EscrowParties{
				Depositor:   tenant,
				Beneficiary: landlord,
				Arbiter:     arbiter,
				Token:       currency,
			}, stop)
		})
		g.Go(func() error { return actors.Closer(gctx, s, tally, id, landlord, stop) })
	}
	g.Go(func() error { return actors.Clock(gctx, s, 6*time.Hour, stop) })
	if extra != nil {
		extra(g, gctx, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
loop:
	for time.Now().Before(deadline) {
		select {
		case <-gctx.Done():
			break loop
		case <-ticker.C:
			if tick != nil && !tick(gctx) {
				break loop
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("actors errored: %v", err)
	}
}

func checkServices(t *testing.T, ctx context.Context, w *world, reg *actors.Registry) {
	t.Helper()
	s := w.stack
	checks := []func() (string, string, error){
		func() (string, string, error) {
			return oracles.Supply(ctx, s.Tokens, currency, w.holders(), reg.IDs(), w.minted)
		},
		func() (string, string, error) { return oracles.Payments(ctx, s.Agreements, s.Payments, w.agreements) },
		func() (string, string, error) { return oracles.Custody(ctx, s.Escrows, s.Tokens, reg.IDs()) },
	}
	for _, check := range checks {
		name, row, err := check()
		if err != nil {
			t.Fatalf("oracle %s error: %v", name, err)
		}
		if name != "" {
			t.Fatalf("Oracle %s failed: %s (seed=%d)", name, row, *flSeed)
		}
	}
}

func TestLedgerConcurrency_Memory(t *testing.T) {
	rand.Seed(*flSeed)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+30*time.Second)
	defer cancel()

	w := seed(t, ctx, newStack(ledger.NewMemStore()), *flConcurrency)
	var (
		tally actors.Tally
		reg   actors.Registry
	)
	runActors(t, ctx, w, &tally, &reg, nil, nil)

	if errs := tally.Unexpected(); len(errs) > 0 {
		t.Fatalf("%d unexpected errors, first: %v (seed=%d)", len(errs), errs[0], *flSeed)
	}
	if tally.Succeeded.Load() == 0 {
		t.Fatal("no operation succeeded")
	}
	checkServices(t, ctx, w, &reg)
	t.Logf("succeeded=%d rejected=%d escrows=%d", tally.Succeeded.Load(), tally.Rejected.Load(), len(reg.IDs()))
}

func TestLedgerConcurrency_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("postgres stress skipped in short mode")
	}
	rand.Seed(*flSeed)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+2*time.Minute)
	defer cancel()

	if *flDSN == "" && !infra.DockerAvailable(ctx) {
		t.Skipf("no docker and no -dsn/%s", infra.DSNEnv)
	}
	pgC, dsn, shared, err := infra.StartPostgres16(ctx, *flDSN)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	defer pgC.Terminate(context.Background())

	logger := zaptest.NewLogger(t)
	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, shared, logger)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	w := seed(t, ctx, newStack(ledger.NewPGStore(pool)), *flConcurrency)
	var (
		tally = actors.Tally{Transient: contended}
		reg   actors.Registry
	)
	relay := events.NewRelay(pool, events.LogPublisher{Logger: logger}, logger)
	relay.SetInterval(200 * time.Millisecond)

	extra := func(g *errgroup.Group, ctx context.Context, stop <-chan struct{}) {
		g.Go(func() error {
			rctx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() {
				select {
				case <-stop:
					cancel()
				case <-rctx.Done():
				}
			}()
			return relay.Run(rctx)
		})
		if *flChaos {
			go chaos.TerminateRandomBackend(ctx, pool, infra.AppName, stop)
		}
	}
	var failed bool
	tick := func(ctx context.Context) bool {
		name, row, err := oracles.Run(ctx, pool)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			t.Errorf("oracle error: %v", err)
			failed = true
			return false
		}
		if name != "" {
			dumpRecent(t, ctx, pool)
			t.Errorf("Oracle %s failed. First row: %s (seed=%d)", name, row, *flSeed)
			failed = true
			return false
		}
		return true
	}
	runActors(t, ctx, w, &tally, &reg, extra, tick)
	if failed {
		t.FailNow()
	}

	if errs := tally.Unexpected(); len(errs) > 0 && !*flChaos {
		t.Fatalf("%d unexpected errors, first: %v (seed=%d)", len(errs), errs[0], *flSeed)
	}
	checkServices(t, ctx, w, &reg)
	if name, row, err := oracles.Run(ctx, pool); err != nil || name != "" {
		t.Fatalf("final oracle %s: %s %v", name, row, err)
	}
	t.Logf("succeeded=%d rejected=%d escrows=%d", tally.Succeeded.Load(), tally.Rejected.Load(), len(reg.IDs()))
}

// contended matches the errors PostgreSQL raises when two transactions lock
// shared balance rows in opposite order; the loser is rolled back whole.
func contended(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40P01" || pgErr.Code == "40001"
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"ledger_entries", `SELECT key, value, updated_at FROM ledger_entries ORDER BY updated_at DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
