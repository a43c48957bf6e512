package dispute

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentledger/auth"
	"rentledger/escrow"
	"rentledger/events"
	"rentledger/ledger"
	"rentledger/lock"
	"rentledger/token"
)

const (
	depositor   = "GTENANT"
	beneficiary = "GLANDLORD"
	arbiter     = "GARBITER"
	usdc        = "USDC"
)

type fixture struct {
	exec     *ledger.Executor
	store    *ledger.MemStore
	tokens   *token.Ledger
	escrows  *escrow.Manager
	disputes *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledger.NewMemStore()
	clock := ledger.NewManualClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	exec := ledger.NewExecutor(store, lock.NewLocal(), ledger.WithClock(clock))
	tokens := token.NewLedger()
	authz := auth.ContextAuthorizer{}
	err := exec.Run(context.Background(), "test.mint", "mint", func(ctx context.Context, tx ledger.Tx) error {
		return tokens.Mint(ctx, tx, usdc, depositor, 1000)
	})
	require.NoError(t, err)
	return &fixture{
		exec:     exec,
		store:    store,
		tokens:   tokens,
		escrows:  escrow.NewManager(exec, authz, tokens),
		disputes: NewHandler(exec, authz, tokens),
	}
}

func as(address string) context.Context {
	return auth.WithCaller(context.Background(), address)
}

func (f *fixture) funded(t *testing.T) escrow.ID {
	t.Helper()
	e, err := f.escrows.Create(as(depositor), escrow.CreateParams{
		Depositor:   depositor,
		Beneficiary: beneficiary,
		Arbiter:     arbiter,
		Amount:      1000,
		Token:       usdc,
	})
	require.NoError(t, err)
	_, err = f.escrows.Deposit(as(depositor), depositor, e.ID)
	require.NoError(t, err)
	return e.ID
}

func (f *fixture) balance(t *testing.T, holder string) int64 {
	t.Helper()
	var bal int64
	err := f.exec.View(context.Background(), "test.balance", func(ctx context.Context, tx ledger.Tx) error {
		var err error
		bal, err = f.tokens.Balance(ctx, tx, usdc, holder)
		return err
	})
	require.NoError(t, err)
	return bal
}

func TestRaiseDispute(t *testing.T) {
	f := newFixture(t)
	id := f.funded(t)

	_, err := f.escrows.ApproveRelease(as(depositor), depositor, id)
	require.NoError(t, err)

	_, err = f.disputes.RaiseDispute(as(arbiter), arbiter, id, "arbiter cannot open")
	assert.ErrorIs(t, err, escrow.ErrNotAuthorized)

	_, err = f.disputes.RaiseDispute(as(beneficiary), beneficiary, id, "  ")
	assert.ErrorIs(t, err, escrow.ErrInvalidReason)

	e, err := f.disputes.RaiseDispute(as(beneficiary), beneficiary, id, "damage to kitchen")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusDisputed, e.Status)
	require.NotNil(t, e.DisputeReason)
	assert.Equal(t, "damage to kitchen", *e.DisputeReason)

	approvals, err := f.escrows.Approvals(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, approvals.Votes, "dispute must clear pending votes")

	_, err = f.escrows.ApproveRelease(as(beneficiary), beneficiary, id)
	assert.ErrorIs(t, err, escrow.ErrInvalidState)

	_, err = f.disputes.RaiseDispute(as(depositor), depositor, id, "again")
	assert.ErrorIs(t, err, escrow.ErrInvalidState)
}

func TestRaiseDispute_RequiresFunded(t *testing.T) {
	f := newFixture(t)
	e, err := f.escrows.Create(as(depositor), escrow.CreateParams{
		Depositor: depositor, Beneficiary: beneficiary, Arbiter: arbiter, Amount: 1000, Token: usdc,
	})
	require.NoError(t, err)

	_, err = f.disputes.RaiseDispute(as(depositor), depositor, e.ID, "never funded")
	assert.ErrorIs(t, err, escrow.ErrInvalidState)
}

func TestResolve(t *testing.T) {
	cases := []struct {
		name        string
		outcome     Outcome
		status      escrow.Status
		beneficiary int64
		depositor   int64
	}{
		{"release", Release(), escrow.StatusReleased, 1000, 0},
		{"refund", Refund(), escrow.StatusRefunded, 0, 1000},
		{"split favouring beneficiary", Split(600), escrow.StatusReleased, 600, 400},
		{"even split", Split(500), escrow.StatusReleased, 500, 500},
		{"split favouring depositor", Split(200), escrow.StatusRefunded, 200, 800},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			id := f.funded(t)
			_, err := f.disputes.RaiseDispute(as(depositor), depositor, id, "no refund offered")
			require.NoError(t, err)

			e, err := f.disputes.Resolve(as(arbiter), arbiter, id, tc.outcome)
			require.NoError(t, err)
			assert.Equal(t, tc.status, e.Status)
			require.NotNil(t, e.DisputeReason, "reason kept for audit")
			assert.Equal(t, tc.beneficiary, f.balance(t, beneficiary))
			assert.Equal(t, tc.depositor, f.balance(t, depositor))
			assert.Zero(t, f.balance(t, escrow.CustodyAccount(id)))

			evs := f.store.Events()
			assert.Equal(t, events.TopicEscrowResolved, evs[len(evs)-1].Topic)
		})
	}
}

func TestResolve_Rejections(t *testing.T) {
	f := newFixture(t)
	id := f.funded(t)

	_, err := f.disputes.Resolve(as(arbiter), arbiter, id, Release())
	assert.ErrorIs(t, err, escrow.ErrInvalidState, "not disputed yet")

	_, err = f.disputes.RaiseDispute(as(depositor), depositor, id, "leak")
	require.NoError(t, err)

	_, err = f.disputes.Resolve(as(depositor), depositor, id, Refund())
	assert.ErrorIs(t, err, escrow.ErrNotAuthorized)

	_, err = f.disputes.Resolve(as(arbiter), arbiter, id, Split(1001))
	assert.ErrorIs(t, err, escrow.ErrInvalidAmount)

	_, err = f.disputes.Resolve(as(arbiter), arbiter, escrow.NewID(), Release())
	assert.ErrorIs(t, err, escrow.ErrEscrowNotFound)

	e, _, err := f.escrows.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusDisputed, e.Status)
	assert.Equal(t, int64(1000), f.balance(t, escrow.CustodyAccount(id)))
}

func TestOutcomeJSON(t *testing.T) {
	var o Outcome
	require.NoError(t, json.Unmarshal([]byte(`{"decision":"split","to_beneficiary":250}`), &o))
	assert.Equal(t, Split(250), o)
	assert.Error(t, json.Unmarshal([]byte(`{"decision":"coin_flip"}`), &o))
}
