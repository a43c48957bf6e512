package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PGStore keeps the key space in the ledger_entries table and writes events to
// the outbox table inside the same transaction.
//
// Write transactions lock every key they read (SELECT ... FOR UPDATE), so two
// invocations touching a shared key such as a token balance are serialized by
// PostgreSQL even when they hold different entity locks.
type PGStore struct {
	pool TxBeginner
}

func NewPGStore(pool TxBeginner) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Begin(ctx context.Context, opts TxOptions) (Txn, error) {
	txOpts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	if opts.ReadOnly {
		txOpts.AccessMode = pgx.ReadOnly
	}
	tx, err := s.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return nil, fmt.Errorf("ledger: begin tx: %w", err)
	}
	return &pgTxn{tx: tx, now: opts.Now, readOnly: opts.ReadOnly}, nil
}

type pgTxn struct {
	tx       pgx.Tx
	now      time.Time
	readOnly bool
	done     bool
}

// lockRow guarantees a row exists for key and holds its row lock until the
// transaction ends. An absent value is stored as SQL NULL.
func (t *pgTxn) lockRow(ctx context.Context, key Key) ([]byte, error) {
	const ensureSQL = `
INSERT INTO ledger_entries (key, value)
VALUES ($1, NULL)
ON CONFLICT (key) DO NOTHING;
`
	if _, err := t.tx.Exec(ctx, ensureSQL, string(key)); err != nil {
		return nil, fmt.Errorf("ledger: reserve %s: %w", key, err)
	}

	const selectSQL = `SELECT value FROM ledger_entries WHERE key = $1 FOR UPDATE`
	var raw []byte
	if err := t.tx.QueryRow(ctx, selectSQL, string(key)).Scan(&raw); err != nil {
		return nil, fmt.Errorf("ledger: lock %s: %w", key, err)
	}
	return raw, nil
}

func (t *pgTxn) read(ctx context.Context, key Key) ([]byte, error) {
	if t.readOnly {
		const selectSQL = `SELECT value FROM ledger_entries WHERE key = $1`
		var raw []byte
		err := t.tx.QueryRow(ctx, selectSQL, string(key)).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("ledger: read %s: %w", key, err)
		}
		return raw, nil
	}
	return t.lockRow(ctx, key)
}

func (t *pgTxn) Get(ctx context.Context, key Key, dst any) (bool, error) {
	if t.done {
		return false, ErrTxClosed
	}
	raw, err := t.read(ctx, key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("ledger: decode %s: %w", key, err)
	}
	return true, nil
}

func (t *pgTxn) Set(ctx context.Context, key Key, value any) error {
	if t.done {
		return ErrTxClosed
	}
	if t.readOnly {
		return fmt.Errorf("ledger: write %s in read-only transaction", key)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("ledger: encode %s: %w", key, err)
	}

	const upsertSQL = `
INSERT INTO ledger_entries (key, value, updated_at)
VALUES ($1, $2::jsonb, $3)
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value,
    updated_at = EXCLUDED.updated_at;
`
	if _, err := t.tx.Exec(ctx, upsertSQL, string(key), raw, t.now); err != nil {
		return fmt.Errorf("ledger: write %s: %w", key, err)
	}
	return nil
}

func (t *pgTxn) Has(ctx context.Context, key Key) (bool, error) {
	if t.done {
		return false, ErrTxClosed
	}
	raw, err := t.read(ctx, key)
	if err != nil {
		return false, err
	}
	return raw != nil, nil
}

func (t *pgTxn) Emit(ctx context.Context, topic string, payload any) error {
	if t.done {
		return ErrTxClosed
	}
	if t.readOnly {
		return fmt.Errorf("ledger: emit %s in read-only transaction", topic)
	}
	if topic == "" {
		return ErrEmptyTopic
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ledger: encode event %s: %w", topic, err)
	}

	const insertSQL = `
INSERT INTO outbox (id, topic, payload, created_at)
VALUES ($1, $2, $3::jsonb, $4);
`
	if _, err := t.tx.Exec(ctx, insertSQL, uuid.NewString(), topic, raw, t.now); err != nil {
		return fmt.Errorf("ledger: insert outbox message: %w", err)
	}
	return nil
}

func (t *pgTxn) Now() time.Time {
	return t.now
}

func (t *pgTxn) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxClosed
	}
	t.done = true
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

func (t *pgTxn) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("ledger: rollback: %w", err)
	}
	return nil
}
