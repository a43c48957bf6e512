package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store. Write transactions are serialized for their
// whole lifetime, so a transaction always observes a consistent snapshot and
// never loses an update made by another one.
type MemStore struct {
	mu      sync.RWMutex
	entries map[Key][]byte
	events  []Event
}

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[Key][]byte)}
}

func (s *MemStore) Begin(ctx context.Context, opts TxOptions) (Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.ReadOnly {
		s.mu.RLock()
	} else {
		s.mu.Lock()
	}
	return &memTxn{
		store:    s,
		now:      opts.Now,
		readOnly: opts.ReadOnly,
		writes:   make(map[Key][]byte),
	}, nil
}

// Events returns a copy of every committed event in emission order.
func (s *MemStore) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Len reports the number of persisted keys.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

type memTxn struct {
	store    *MemStore
	now      time.Time
	readOnly bool
	done     bool
	writes   map[Key][]byte
	events   []Event
}

func (t *memTxn) lookup(key Key) ([]byte, bool) {
	if v, ok := t.writes[key]; ok {
		return v, true
	}
	v, ok := t.store.entries[key]
	return v, ok
}

func (t *memTxn) Get(_ context.Context, key Key, dst any) (bool, error) {
	if t.done {
		return false, ErrTxClosed
	}
	raw, ok := t.lookup(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("ledger: decode %s: %w", key, err)
	}
	return true, nil
}

func (t *memTxn) Set(_ context.Context, key Key, value any) error {
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
	t.writes[key] = raw
	return nil
}

func (t *memTxn) Has(_ context.Context, key Key) (bool, error) {
	if t.done {
		return false, ErrTxClosed
	}
	_, ok := t.lookup(key)
	return ok, nil
}

func (t *memTxn) Emit(_ context.Context, topic string, payload any) error {
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
	t.events = append(t.events, Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   raw,
		EmittedAt: t.now,
	})
	return nil
}

func (t *memTxn) Now() time.Time {
	return t.now
}

func (t *memTxn) Commit(context.Context) error {
	if t.done {
		return ErrTxClosed
	}
	for k, v := range t.writes {
		t.store.entries[k] = v
	}
	t.store.events = append(t.store.events, t.events...)
	t.release()
	return nil
}

func (t *memTxn) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.release()
	return nil
}

func (t *memTxn) release() {
	t.done = true
	t.writes = nil
	t.events = nil
	if t.readOnly {
		t.store.mu.RUnlock()
	} else {
		t.store.mu.Unlock()
	}
}
