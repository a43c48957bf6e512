package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"rentledger/agreement"
	"rentledger/auth"
	"rentledger/dispute"
	"rentledger/escrow"
	"rentledger/ledger"
	"rentledger/payment"
	"rentledger/token"
)

// Stack is the service graph every actor drives.
type Stack struct {
	Clock      *ledger.ManualClock
	Agreements *agreement.Service
	Payments   *payment.Processor
	Escrows    *escrow.Manager
	Disputes   *dispute.Handler
	Tokens     *token.Service
}

// Tally counts outcomes across actors. Rejected covers expected domain
// errors; every other error is kept for the report.
type Tally struct {
	Succeeded atomic.Int64
	Rejected  atomic.Int64
	// Transient, when set, marks store errors that roll back cleanly and
	// may be retried, such as lock-order deadlocks.
	Transient func(error) bool

	mu         sync.Mutex
	unexpected []error
}

func (t *Tally) observe(err error) {
	switch {
	case err == nil:
		t.Succeeded.Add(1)
	case Expected(err), t.Transient != nil && t.Transient(err):
		t.Rejected.Add(1)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		t.mu.Lock()
		t.unexpected = append(t.unexpected, err)
		t.mu.Unlock()
	}
}

// Unexpected returns the errors that were neither successes nor domain
// rejections.
func (t *Tally) Unexpected() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]error(nil), t.unexpected...)
}

// Expected reports whether err is a business rejection that concurrent
// actors are bound to hit.
func Expected(err error) bool {
	var (
		ae agreement.Error
		pe payment.Error
		ee escrow.Error
	)
	return errors.As(err, &ae) || errors.As(err, &pe) || errors.As(err, &ee) ||
		errors.Is(err, token.ErrInsufficientFunds)
}

func as(ctx context.Context, address string) context.Context {
	return auth.WithCaller(ctx, address)
}

func loop(ctx context.Context, stop <-chan struct{}, pause func() time.Duration, step func()) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		step()
		time.Sleep(pause())
	}
}

func jitter(base, spread int) func() time.Duration {
	return func() time.Duration {
		return time.Duration(base+rand.Intn(spread)) * time.Millisecond
	}
}

// Payer keeps paying rent on one agreement. Most attempts are rejected as not
// yet due; the clock actor makes periods fall due.
func Payer(ctx context.Context, s *Stack, t *Tally, agreementID, tenant string, rent int64, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(5, 15), func() {
		_, err := s.Payments.ProcessPayment(as(ctx, tenant), agreementID, rent, tenant)
		t.observe(err)
	})
}

// Clock advances ledger time by step on every tick.
func Clock(ctx context.Context, s *Stack, step time.Duration, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(10, 10), func() {
		s.Clock.Advance(step)
	})
}

// Registry collects escrows created during a run so oracles can inspect
// their custody accounts.
type Registry struct {
	mu  sync.Mutex
	ids []escrow.ID
}

func (r *Registry) add(id escrow.ID) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

func (r *Registry) IDs() []escrow.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]escrow.ID(nil), r.ids...)
}

// EscrowParties names the three signers an escrow actor uses.
type EscrowParties struct {
	Depositor   string
	Beneficiary string
	Arbiter     string
	Token       string
}

// Escrower opens and funds escrows, then settles each one by a random path:
// two release votes, two refund votes, or a dispute decided by the arbiter.
func Escrower(ctx context.Context, s *Stack, t *Tally, reg *Registry, p EscrowParties, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(10, 30), func() {
		e, err := s.Escrows.Create(as(ctx, p.Depositor), escrow.CreateParams{
			Depositor:   p.Depositor,
			Beneficiary: p.Beneficiary,
			Arbiter:     p.Arbiter,
			Amount:      int64(50 + rand.Intn(200)),
			Token:       p.Token,
		})
		t.observe(err)
		if err != nil {
			return
		}
		reg.add(e.ID)

		_, err = s.Escrows.Deposit(as(ctx, p.Depositor), p.Depositor, e.ID)
		t.observe(err)
		if err != nil {
			return
		}

		switch rand.Intn(3) {
		case 0:
			vote(ctx, t, s.Escrows.ApproveRelease, e.ID, p.Beneficiary, p.Arbiter, p.Depositor)
		case 1:
			vote(ctx, t, s.Escrows.ApproveRefund, e.ID, p.Depositor, p.Arbiter, p.Beneficiary)
		default:
			_, err = s.Disputes.RaiseDispute(as(ctx, p.Beneficiary), p.Beneficiary, e.ID, fmt.Sprintf("damage report %d", rand.Intn(1000)))
			t.observe(err)
			outcome := dispute.Split(rand.Int63n(e.Amount + 1))
			_, err = s.Disputes.Resolve(as(ctx, p.Arbiter), p.Arbiter, e.ID, outcome)
			t.observe(err)
		}
	})
}

type approveFunc func(ctx context.Context, caller string, id escrow.ID) (escrow.Escrow, error)

// vote casts approvals in order; the third one must be rejected because the
// first two already settled the escrow.
func vote(ctx context.Context, t *Tally, approve approveFunc, id escrow.ID, voters ...string) {
	for _, v := range voters {
		_, err := approve(as(ctx, v), v, id)
		t.observe(err)
	}
}

// Closer keeps trying to complete an agreement; it is rejected until the
// clock passes the end date.
func Closer(ctx context.Context, s *Stack, t *Tally, agreementID, landlord string, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(40, 60), func() {
		_, err := s.Agreements.Complete(as(ctx, landlord), landlord, agreementID)
		t.observe(err)
	})
}
