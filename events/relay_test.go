package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestRelayDrain_PublishesInOrderAndMarksSent(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	tx := &fakeTx{rows: []OutboxMessage{
		{ID: "m1", Topic: TopicEscrowFunded, Payload: json.RawMessage(`{"escrow_id":"e1"}`), Status: StatusPending, CreatedAt: now},
		{ID: "m2", Topic: TopicEscrowReleased, Payload: json.RawMessage(`{"escrow_id":"e1"}`), Status: StatusPending, CreatedAt: now.Add(time.Second)},
	}}
	pub := &recordingPublisher{}
	relay := NewRelay(&fakePool{tx: tx}, pub, nil)

	sent, err := relay.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: unexpected error: %v", err)
	}
	if sent != 2 {
		t.Fatalf("expected 2 sent, got %d", sent)
	}
	if len(pub.got) != 2 || pub.got[0].ID != "m1" || pub.got[1].ID != "m2" {
		t.Fatalf("unexpected publish order: %+v", pub.got)
	}
	if !tx.committed {
		t.Errorf("expected commit")
	}
	if got := tx.countExec("status = 'sent'"); got != 2 {
		t.Errorf("expected 2 sent updates, got %d", got)
	}
}

func TestRelayDrain_StopsAtFirstFailure(t *testing.T) {
	tx := &fakeTx{rows: []OutboxMessage{
		{ID: "m1", Topic: TopicEscrowFunded, Payload: json.RawMessage(`{}`), Status: StatusPending},
		{ID: "m2", Topic: TopicEscrowReleased, Payload: json.RawMessage(`{}`), Status: StatusPending},
	}}
	pub := &recordingPublisher{failOn: "m1"}
	relay := NewRelay(&fakePool{tx: tx}, pub, nil)

	sent, err := relay.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: unexpected error: %v", err)
	}
	if sent != 0 {
		t.Fatalf("expected nothing sent, got %d", sent)
	}
	if len(pub.got) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(pub.got))
	}
	if got := tx.countExec("attempts = attempts + 1"); got != 1 {
		t.Errorf("expected attempt bump, got %d", got)
	}
	if !tx.committed {
		t.Errorf("expected attempt bookkeeping to commit")
	}
}

type recordingPublisher struct {
	failOn string
	got    []OutboxMessage
}

func (p *recordingPublisher) Publish(_ context.Context, msg OutboxMessage) error {
	p.got = append(p.got, msg)
	if msg.ID == p.failOn {
		return errors.New("broker unavailable")
	}
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(context.Context) (pgx.Tx, error) {
	return f.tx, nil
}

type fakeTx struct {
	rows      []OutboxMessage
	execs     []string
	committed bool
	rolled    bool
}

func (f *fakeTx) countExec(fragment string) int {
	n := 0
	for _, sql := range f.execs {
		if strings.Contains(sql, fragment) {
			n++
		}
	}
	return n
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return &fakeRows{msgs: f.rows, idx: -1}, nil
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

type fakeRows struct {
	msgs []OutboxMessage
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx < len(r.msgs)
}

func (r *fakeRows) Scan(dest ...any) error {
	m := r.msgs[r.idx]
	*dest[0].(*string) = m.ID
	*dest[1].(*string) = m.Topic
	*dest[2].(*json.RawMessage) = m.Payload
	*dest[3].(*string) = m.Status
	*dest[4].(*int) = m.Attempts
	*dest[5].(*time.Time) = m.CreatedAt
	return nil
}
