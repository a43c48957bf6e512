package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rentledger/agreement"
	"rentledger/api"
	"rentledger/auth"
	"rentledger/config"
	"rentledger/db"
	"rentledger/dispute"
	"rentledger/escrow"
	"rentledger/events"
	"rentledger/ledger"
	"rentledger/lock"
	"rentledger/logging"
	"rentledger/payment"
	"rentledger/token"
)

func serveCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the outbox relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

// backend holds the storage-dependent pieces chosen from configuration.
type backend struct {
	store    ledger.Store
	locker   ledger.Locker
	accounts auth.Repository
	relay    *events.Relay
	close    func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backend, error) {
	b := &backend{close: func() {}}
	var closers []func()

	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.Options{MaxConns: cfg.MaxConnections})
		if err != nil {
			return nil, err
		}
		closers = append(closers, pool.Close)
		b.store = ledger.NewPGStore(pool)
		b.accounts = auth.NewRepository(pool)
		b.relay = newRelay(pool, cfg, logger)
		logger.Info("using postgres ledger store")
	} else {
		b.store = ledger.NewMemStore()
		b.accounts = auth.NewMemRepository()
		logger.Warn("DATABASE_URL not set; state is kept in memory")
	}

	if cfg.RedisAddr != "" {
		client := goredislib.NewClient(&goredislib.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			runAll(closers)
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		opts := lock.DefaultOptions()
		opts.Expiry = cfg.LockExpiry
		rl, err := lock.NewRedis(client, opts, logger)
		if err != nil {
			runAll(closers)
			return nil, err
		}
		b.locker = rl
	} else {
		b.locker = lock.NewLocal()
	}

	b.close = func() { runAll(closers) }
	return b, nil
}

func newRelay(pool *pgxpool.Pool, cfg config.Config, logger *zap.Logger) *events.Relay {
	r := events.NewRelay(pool, events.LogPublisher{Logger: logger.Named("outbox")}, logger)
	r.SetInterval(cfg.RelayInterval)
	return r
}

func runAll(fns []func()) {
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	exec := ledger.NewExecutor(b.store, b.locker,
		ledger.WithLogger(logger),
		ledger.WithTracer(otel.Tracer("rentledger")),
	)
	authz := auth.ContextAuthorizer{}
	tokens := token.NewLedger()

	srv := api.NewServer(api.Services{
		Auth:       auth.NewService(b.accounts, cfg.JWTSecret),
		Agreements: agreement.NewService(exec, authz),
		Payments:   payment.NewProcessor(exec, authz, tokens, cfg.PlatformAdmin, logger),
		Escrows:    escrow.NewManager(exec, authz, tokens),
		Disputes:   dispute.NewHandler(exec, authz, tokens),
		Tokens:     token.NewService(exec, authz, tokens, cfg.PlatformAdmin),
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if b.relay != nil {
		g.Go(func() error { return b.relay.Run(gctx) })
	}

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
