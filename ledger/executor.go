package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Locker serializes invocations that share a lock key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// Clock supplies ledger timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a settable clock for tests and replays.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Executor is the transaction boundary every operation runs through: it holds
// the entity lock, opens a store transaction, and commits only if the
// operation returns nil.
type Executor struct {
	store  Store
	locker Locker
	clock  Clock
	logger *zap.Logger
	tracer trace.Tracer
}

// Option customizes an Executor.
type Option func(*Executor)

func WithClock(c Clock) Option {
	return func(e *Executor) { e.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

func NewExecutor(store Store, locker Locker, opts ...Option) *Executor {
	e := &Executor{
		store:  store,
		locker: locker,
		clock:  SystemClock{},
		logger: zap.NewNop(),
		tracer: otel.Tracer("rentledger/ledger"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the timestamp the next invocation would observe.
func (e *Executor) Now() time.Time {
	return e.clock.Now().UTC().Truncate(time.Second)
}

// Run executes fn as one atomic invocation against the entity named by lockKey.
func (e *Executor) Run(ctx context.Context, op, lockKey string, fn func(ctx context.Context, tx Tx) error) error {
	if lockKey == "" {
		return fmt.Errorf("ledger: %s: empty lock key", op)
	}

	ctx, span := e.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("ledger.lock_key", lockKey)))
	defer span.End()

	start := time.Now()
	err := e.locker.WithLock(ctx, "lock:"+lockKey, func(ctx context.Context) error {
		return e.transact(ctx, TxOptions{Now: e.Now()}, fn)
	})

	fields := []zap.Field{
		zap.String("op", op),
		zap.String("lock_key", lockKey),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" aborted")
		e.logger.Info("ledger invocation aborted", append(fields, zap.Error(err))...)
		return err
	}
	e.logger.Debug("ledger invocation committed", fields...)
	return nil
}

// View runs fn in a read-only transaction without taking an entity lock.
func (e *Executor) View(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	ctx, span := e.tracer.Start(ctx, op)
	defer span.End()

	err := e.transact(ctx, TxOptions{Now: e.Now(), ReadOnly: true}, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
	}
	return err
}

func (e *Executor) transact(ctx context.Context, opts TxOptions, fn func(ctx context.Context, tx Tx) error) (err error) {
	txn, err := e.store.Begin(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if rbErr := txn.Rollback(ctx); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
	}()

	if err := fn(ctx, txn); err != nil {
		return err
	}
	if opts.ReadOnly {
		return nil
	}
	return txn.Commit(ctx)
}
