package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentledger/agreement"
	"rentledger/auth"
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
	exec   *ledger.Executor
	store  *ledger.MemStore
	tokens *token.Ledger
	mgr    *Manager
	agr    *agreement.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledger.NewMemStore()
	clock := ledger.NewManualClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	exec := ledger.NewExecutor(store, lock.NewLocal(), ledger.WithClock(clock))
	tokens := token.NewLedger()
	f := &fixture{
		exec:   exec,
		store:  store,
		tokens: tokens,
		mgr:    NewManager(exec, auth.ContextAuthorizer{}, tokens),
		agr:    agreement.NewService(exec, auth.ContextAuthorizer{}),
	}
	err := exec.Run(context.Background(), "test.mint", "mint", func(ctx context.Context, tx ledger.Tx) error {
		return tokens.Mint(ctx, tx, usdc, depositor, 5000)
	})
	require.NoError(t, err)
	return f
}

func as(address string) context.Context {
	return auth.WithCaller(context.Background(), address)
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

func (f *fixture) addAgreement(t *testing.T, id, tenant, landlord string) {
	t.Helper()
	start := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.agr.Create(as(tenant), agreement.CreateParams{
		ID:              id,
		Landlord:        landlord,
		Tenant:          tenant,
		MonthlyRent:     1000,
		SecurityDeposit: 1000,
		StartDate:       start,
		EndDate:         start.AddDate(1, 0, 0),
		PaymentToken:    usdc,
	})
	require.NoError(t, err)
}

func (f *fixture) funded(t *testing.T, agreementID string) Escrow {
	t.Helper()
	e, err := f.mgr.Create(as(depositor), CreateParams{
		AgreementID: agreementID,
		Depositor:   depositor,
		Beneficiary: beneficiary,
		Arbiter:     arbiter,
		Amount:      1000,
		Token:       usdc,
	})
	require.NoError(t, err)
	e, err = f.mgr.Deposit(as(depositor), depositor, e.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFunded, e.Status)
	return e
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	base := CreateParams{Depositor: depositor, Beneficiary: beneficiary, Arbiter: arbiter, Amount: 1000, Token: usdc}

	_, err := f.mgr.Create(as(beneficiary), base)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	zero := base
	zero.Amount = 0
	_, err = f.mgr.Create(as(depositor), zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	dup := base
	dup.Arbiter = beneficiary
	_, err = f.mgr.Create(as(depositor), dup)
	assert.ErrorIs(t, err, ErrInvalidSigner)

	linked := base
	linked.AgreementID = "AGR-1"
	_, err = f.mgr.Create(as(depositor), linked)
	assert.ErrorIs(t, err, agreement.ErrAgreementNotFound)

	f.addAgreement(t, "AGR-1", depositor, beneficiary)
	e, err := f.mgr.Create(as(depositor), linked)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, e.Status)
	_, err = f.mgr.Create(as(depositor), linked)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	got, found, err := f.mgr.ForAgreement(context.Background(), "AGR-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, e.ID, got.ID)

	_, found, err = f.mgr.ForAgreement(context.Background(), "AGR-2")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCreate_LinkedAgreementMustMatchParties(t *testing.T) {
	f := newFixture(t)
	f.addAgreement(t, "AGR-1", depositor, beneficiary)
	f.addAgreement(t, "AGR-2", "GOTHERTENANT", beneficiary)
	f.addAgreement(t, "AGR-3", depositor, "GOTHERLANDLORD")

	for _, id := range []string{"AGR-2", "AGR-3"} {
		_, err := f.mgr.Create(as(depositor), CreateParams{
			AgreementID: id,
			Depositor:   depositor,
			Beneficiary: beneficiary,
			Arbiter:     arbiter,
			Amount:      1000,
			Token:       usdc,
		})
		assert.ErrorIs(t, err, ErrInvalidSigner, id)
		_, found, err := f.mgr.ForAgreement(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, found, id)
	}

	// Swapped roles on a real agreement are rejected too.
	_, err := f.mgr.Create(as(beneficiary), CreateParams{
		AgreementID: "AGR-1",
		Depositor:   beneficiary,
		Beneficiary: depositor,
		Arbiter:     arbiter,
		Amount:      1000,
		Token:       usdc,
	})
	assert.ErrorIs(t, err, ErrInvalidSigner)
}

func TestDeposit(t *testing.T) {
	f := newFixture(t)
	e, err := f.mgr.Create(as(depositor), CreateParams{Depositor: depositor, Beneficiary: beneficiary, Arbiter: arbiter, Amount: 1000, Token: usdc})
	require.NoError(t, err)

	_, err = f.mgr.Deposit(as(beneficiary), beneficiary, e.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = f.mgr.Deposit(as(depositor), depositor, NewID())
	assert.ErrorIs(t, err, ErrEscrowNotFound)

	funded, err := f.mgr.Deposit(as(depositor), depositor, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, funded.Status)
	assert.Equal(t, int64(4000), f.balance(t, depositor))
	assert.Equal(t, int64(1000), f.balance(t, CustodyAccount(e.ID)))

	_, err = f.mgr.Deposit(as(depositor), depositor, e.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDeposit_InsufficientFundsLeavesEscrowPending(t *testing.T) {
	f := newFixture(t)
	e, err := f.mgr.Create(as(depositor), CreateParams{Depositor: depositor, Beneficiary: beneficiary, Arbiter: arbiter, Amount: 9000, Token: usdc})
	require.NoError(t, err)

	_, err = f.mgr.Deposit(as(depositor), depositor, e.ID)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	got, _, err := f.mgr.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, int64(5000), f.balance(t, depositor))
}

func TestApproveRelease_EndToEnd(t *testing.T) {
	f := newFixture(t)
	e := f.funded(t, "")

	after, err := f.mgr.ApproveRelease(as(depositor), depositor, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, after.Status)

	approvals, err := f.mgr.Approvals(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, approvals.Count(DirectionRelease))

	after, err = f.mgr.ApproveRelease(as(beneficiary), beneficiary, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, after.Status)
	require.NotNil(t, after.SettledAt)
	assert.Equal(t, int64(1000), f.balance(t, beneficiary))
	assert.Zero(t, f.balance(t, CustodyAccount(e.ID)))

	approvals, err = f.mgr.Approvals(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Empty(t, approvals.Votes)

	_, err = f.mgr.ApproveRelease(as(arbiter), arbiter, e.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.mgr.ApproveRefund(as(depositor), depositor, e.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	evs := f.store.Events()
	assert.Equal(t, events.TopicEscrowReleased, evs[len(evs)-1].Topic)
}

func TestApprove_RepeatAndSwitchDoNotDoubleCount(t *testing.T) {
	f := newFixture(t)
	e := f.funded(t, "")

	_, err := f.mgr.ApproveRelease(as(depositor), depositor, e.ID)
	require.NoError(t, err)
	after, err := f.mgr.ApproveRelease(as(depositor), depositor, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, after.Status, "same role voting twice must not settle")

	_, err = f.mgr.ApproveRefund(as(depositor), depositor, e.ID)
	require.NoError(t, err)
	after, err = f.mgr.ApproveRelease(as(beneficiary), beneficiary, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, after.Status, "switched vote must be discarded")

	after, err = f.mgr.ApproveRefund(as(arbiter), arbiter, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, after.Status)
	assert.Equal(t, int64(5000), f.balance(t, depositor))
	assert.Zero(t, f.balance(t, beneficiary))
}

func TestApprove_Rejections(t *testing.T) {
	f := newFixture(t)
	e, err := f.mgr.Create(as(depositor), CreateParams{Depositor: depositor, Beneficiary: beneficiary, Arbiter: arbiter, Amount: 1000, Token: usdc})
	require.NoError(t, err)

	_, err = f.mgr.ApproveRelease(as(depositor), depositor, e.ID)
	assert.ErrorIs(t, err, ErrInvalidState, "pending escrow")

	_, err = f.mgr.ApproveRelease(as("GSTRANGER"), "GSTRANGER", e.ID)
	assert.ErrorIs(t, err, ErrInvalidSigner)

	_, err = f.mgr.ApproveRelease(as(depositor), beneficiary, e.ID)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestSettle_Split(t *testing.T) {
	f := newFixture(t)
	e := f.funded(t, "")
	e.Status = StatusDisputed

	err := f.exec.Run(context.Background(), "test.settle", LockKey(e.ID), func(ctx context.Context, tx ledger.Tx) error {
		return Settle(ctx, tx, f.tokens, &e, OpResolveRelease, 700)
	})
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, e.Status)
	assert.Equal(t, &Settlement{ToBeneficiary: 700, ToDepositor: 300}, e.Settlement)
	assert.Equal(t, int64(700), f.balance(t, beneficiary))
	assert.Equal(t, int64(4300), f.balance(t, depositor))

	err = f.exec.Run(context.Background(), "test.settle", LockKey(e.ID), func(ctx context.Context, tx ledger.Tx) error {
		e.Status = StatusDisputed
		return Settle(ctx, tx, f.tokens, &e, OpResolveRelease, 1001)
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
