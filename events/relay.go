package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// OutboxMessage represents a transactional outbox entry.
type OutboxMessage struct {
	ID        string
	Topic     string
	Payload   json.RawMessage
	Status    string
	Attempts  int
	CreatedAt time.Time
}

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Publisher delivers one outbox message downstream.
type Publisher interface {
	Publish(ctx context.Context, msg OutboxMessage) error
}

// LogPublisher writes each message to a structured log.
type LogPublisher struct {
	Logger *zap.Logger
}

func (p LogPublisher) Publish(_ context.Context, msg OutboxMessage) error {
	p.Logger.Info("event",
		zap.String("id", msg.ID),
		zap.String("topic", msg.Topic),
		zap.ByteString("payload", msg.Payload),
		zap.Time("created_at", msg.CreatedAt),
	)
	return nil
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Relay drains pending outbox rows to a Publisher, in creation order.
type Relay struct {
	pool        TxBeginner
	publisher   Publisher
	logger      *zap.Logger
	batchSize   int
	interval    time.Duration
	maxAttempts int
}

func NewRelay(pool TxBeginner, publisher Publisher, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		pool:        pool,
		publisher:   publisher,
		logger:      logger,
		batchSize:   100,
		interval:    time.Second,
		maxAttempts: 10,
	}
}

// SetInterval changes the polling period used by Run.
func (r *Relay) SetInterval(d time.Duration) {
	if d > 0 {
		r.interval = d
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("outbox drain failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Drain publishes one batch and returns how many messages were delivered.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("events: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const selectSQL = `
SELECT id::text, topic, payload, status, attempts, created_at
FROM outbox
WHERE status = 'pending'
ORDER BY created_at, id
LIMIT $1
FOR UPDATE SKIP LOCKED
`
	rows, err := tx.Query(ctx, selectSQL, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("events: select outbox: %w", err)
	}
	batch := make([]OutboxMessage, 0, r.batchSize)
	for rows.Next() {
		var msg OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.Topic, &msg.Payload, &msg.Status, &msg.Attempts, &msg.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("events: scan outbox: %w", err)
		}
		batch = append(batch, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("events: iterate outbox: %w", err)
	}

	sent := 0
	for _, msg := range batch {
		if err := r.publisher.Publish(ctx, msg); err != nil {
			status := StatusPending
			if msg.Attempts+1 >= r.maxAttempts {
				status = StatusFailed
			}
			if _, err := tx.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1, status = $2 WHERE id = $1`, msg.ID, status); err != nil {
				return 0, fmt.Errorf("events: mark attempt: %w", err)
			}
			r.logger.Warn("outbox publish failed", zap.String("id", msg.ID), zap.String("topic", msg.Topic), zap.Error(err))
			// Later messages wait so delivery order is preserved.
			break
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'sent', sent_at = now() WHERE id = $1`, msg.ID); err != nil {
			return 0, fmt.Errorf("events: mark sent: %w", err)
		}
		sent++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("events: commit: %w", err)
	}
	return sent, nil
}
