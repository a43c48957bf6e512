package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrTxClosed is returned when a finished transaction is used again.
	ErrTxClosed = errors.New("ledger: transaction already closed")
	// ErrEmptyTopic rejects events without a topic.
	ErrEmptyTopic = errors.New("ledger: empty event topic")
)

// Tx is the view of persisted state available to a single invocation.
// Every write made through a Tx becomes visible atomically on commit or not at
// all.
type Tx interface {
	// Get decodes the value stored at key into dst and reports whether it existed.
	Get(ctx context.Context, key Key, dst any) (bool, error)
	Set(ctx context.Context, key Key, value any) error
	Has(ctx context.Context, key Key) (bool, error)
	// Emit appends a notification that is published only if the transaction commits.
	Emit(ctx context.Context, topic string, payload any) error
	// Now is the ledger timestamp of the invocation.
	Now() time.Time
}

// Txn is a Tx that can be finished. Rollback after Commit is a no-op so callers
// can always defer it.
type Txn interface {
	Tx
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxOptions configures a transaction.
type TxOptions struct {
	Now      time.Time
	ReadOnly bool
}

// Store is the persistence engine the business modules run against.
type Store interface {
	Begin(ctx context.Context, opts TxOptions) (Txn, error)
}

// Event is a committed notification.
type Event struct {
	ID        string
	Topic     string
	Payload   json.RawMessage
	EmittedAt time.Time
}
