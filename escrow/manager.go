// Package escrow holds security deposits in custody and releases or refunds
// them once two of the three parties agree.
package escrow

import (
	"context"
	"errors"
	"fmt"

	"rentledger/agreement"
	"rentledger/auth"
	"rentledger/events"
	"rentledger/ledger"
	"rentledger/token"
)

// LockKey is the executor lock for one escrow.
func LockKey(id ID) string {
	return "escrow:" + id.String()
}

// CustodyAccount is the token holder that owns an escrow's funds between
// deposit and settlement.
func CustodyAccount(id ID) string {
	return "custody:" + id.String()
}

// Manager implements escrow creation, funding and 2-of-3 settlement.
type Manager struct {
	exec       *ledger.Executor
	authz      auth.Authorizer
	tokens     token.Transferer
	repo       *Repository
	agreements *agreement.Repository
	newID      func() ID
}

func NewManager(exec *ledger.Executor, authz auth.Authorizer, tokens token.Transferer) *Manager {
	return &Manager{
		exec:       exec,
		authz:      authz,
		tokens:     tokens,
		repo:       NewRepository(),
		agreements: agreement.NewRepository(),
		newID:      NewID,
	}
}

// Create registers a Pending escrow on behalf of the depositor. An escrow
// may be linked to one existing agreement, whose tenant and landlord must be
// the depositor and beneficiary.
func (m *Manager) Create(ctx context.Context, p CreateParams) (Escrow, error) {
	if p.Token == "" {
		return Escrow{}, fmt.Errorf("escrow: token is required")
	}
	id := m.newID()

	var created Escrow
	err := m.exec.Run(ctx, "escrow.create", LockKey(id), func(ctx context.Context, tx ledger.Tx) error {
		if err := m.authz.RequireAuth(ctx, p.Depositor); err != nil {
			return err
		}
		if p.Amount <= 0 {
			return ErrInvalidAmount
		}
		if p.Depositor == "" || p.Beneficiary == "" || p.Arbiter == "" ||
			p.Depositor == p.Beneficiary || p.Depositor == p.Arbiter || p.Beneficiary == p.Arbiter {
			return ErrInvalidSigner
		}
		if p.AgreementID != "" {
			a, err := m.agreements.Load(ctx, tx, p.AgreementID)
			if err != nil {
				return err
			}
			// A deposit for an agreement runs from its tenant to its landlord.
			if p.Depositor != a.Tenant || p.Beneficiary != a.Landlord {
				return ErrInvalidSigner
			}
			_, linked, err := m.repo.Linked(ctx, tx, p.AgreementID)
			if err != nil {
				return err
			}
			if linked {
				return ErrAlreadyExists
			}
			if err := m.repo.link(ctx, tx, p.AgreementID, id); err != nil {
				return err
			}
		}

		created = Escrow{
			ID:          id,
			AgreementID: p.AgreementID,
			Depositor:   p.Depositor,
			Beneficiary: p.Beneficiary,
			Arbiter:     p.Arbiter,
			Amount:      p.Amount,
			Token:       p.Token,
			Status:      StatusPending,
			CreatedAt:   tx.Now(),
		}
		if err := m.repo.Save(ctx, tx, &created); err != nil {
			return err
		}
		return tx.Emit(ctx, events.TopicEscrowCreated, events.EscrowCreated{
			EscrowID:    id.String(),
			AgreementID: p.AgreementID,
			Depositor:   p.Depositor,
			Beneficiary: p.Beneficiary,
			Arbiter:     p.Arbiter,
			Amount:      p.Amount,
		})
	})
	if err != nil {
		return Escrow{}, err
	}
	return created, nil
}

// Deposit moves the escrow amount from the depositor into custody.
func (m *Manager) Deposit(ctx context.Context, depositor string, id ID) (Escrow, error) {
	var funded Escrow
	err := m.exec.Run(ctx, "escrow.deposit", LockKey(id), func(ctx context.Context, tx ledger.Tx) error {
		if err := m.authz.RequireAuth(ctx, depositor); err != nil {
			return err
		}
		e, err := m.repo.Load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := IsDepositor(&e, depositor); err != nil {
			return err
		}
		next, err := e.Status.Next(OpDeposit)
		if err != nil {
			return err
		}
		if err := m.tokens.Transfer(ctx, tx, e.Token, depositor, CustodyAccount(id), e.Amount); err != nil {
			return transferError(err)
		}

		e.Status = next
		if err := m.repo.Save(ctx, tx, &e); err != nil {
			return err
		}
		funded = e
		return tx.Emit(ctx, events.TopicEscrowFunded, events.EscrowFunded{EscrowID: id.String(), Amount: e.Amount})
	})
	if err != nil {
		return Escrow{}, err
	}
	return funded, nil
}

// ApproveRelease votes to pay custody to the beneficiary.
func (m *Manager) ApproveRelease(ctx context.Context, caller string, id ID) (Escrow, error) {
	return m.approve(ctx, "escrow.approve_release", caller, id, DirectionRelease)
}

// ApproveRefund votes to return custody to the depositor.
func (m *Manager) ApproveRefund(ctx context.Context, caller string, id ID) (Escrow, error) {
	return m.approve(ctx, "escrow.approve_refund", caller, id, DirectionRefund)
}

func (m *Manager) approve(ctx context.Context, op, caller string, id ID, dir Direction) (Escrow, error) {
	var out Escrow
	err := m.exec.Run(ctx, op, LockKey(id), func(ctx context.Context, tx ledger.Tx) error {
		if err := m.authz.RequireAuth(ctx, caller); err != nil {
			return err
		}
		e, err := m.repo.Load(ctx, tx, id)
		if err != nil {
			return err
		}
		role, err := RoleOf(&e, caller)
		if err != nil {
			return err
		}
		if e.Status != StatusFunded {
			return ErrInvalidState
		}

		approvals, err := m.repo.Approvals(ctx, tx, id)
		if err != nil {
			return err
		}
		votes := approvals.Record(role, dir)
		if err := tx.Emit(ctx, events.TopicEscrowApproval, events.EscrowApproval{
			EscrowID:  id.String(),
			Role:      string(role),
			Direction: string(dir),
		}); err != nil {
			return err
		}

		if votes < ApprovalThreshold {
			out = e
			return m.repo.SaveApprovals(ctx, tx, id, approvals)
		}

		toBeneficiary, settleOp := e.Amount, OpRelease
		if dir == DirectionRefund {
			toBeneficiary, settleOp = 0, OpRefund
		}
		if err := Settle(ctx, tx, m.tokens, &e, settleOp, toBeneficiary); err != nil {
			return err
		}
		if err := m.repo.Save(ctx, tx, &e); err != nil {
			return err
		}
		if err := m.repo.ClearApprovals(ctx, tx, id); err != nil {
			return err
		}
		out = e
		topic := events.TopicEscrowReleased
		if e.Status == StatusRefunded {
			topic = events.TopicEscrowRefunded
		}
		return tx.Emit(ctx, topic, SettledEvent(&e))
	})
	if err != nil {
		return Escrow{}, err
	}
	return out, nil
}

// Settle pays custody out, toBeneficiary to the beneficiary and the rest to
// the depositor, and moves e to the status op leads to. The caller saves e.
func Settle(ctx context.Context, tx ledger.Tx, tokens token.Transferer, e *Escrow, op Op, toBeneficiary int64) error {
	if toBeneficiary < 0 || toBeneficiary > e.Amount {
		return ErrInvalidAmount
	}
	next, err := e.Status.Next(op)
	if err != nil {
		return err
	}

	custody := CustodyAccount(e.ID)
	toDepositor := e.Amount - toBeneficiary
	if toBeneficiary > 0 {
		if err := tokens.Transfer(ctx, tx, e.Token, custody, e.Beneficiary, toBeneficiary); err != nil {
			return transferError(err)
		}
	}
	if toDepositor > 0 {
		if err := tokens.Transfer(ctx, tx, e.Token, custody, e.Depositor, toDepositor); err != nil {
			return transferError(err)
		}
	}

	now := tx.Now()
	e.Status = next
	e.SettledAt = &now
	e.Settlement = &Settlement{ToBeneficiary: toBeneficiary, ToDepositor: toDepositor}
	return nil
}

// SettledEvent builds the payload announcing a settlement.
func SettledEvent(e *Escrow) events.EscrowSettled {
	ev := events.EscrowSettled{EscrowID: e.ID.String(), Status: e.Status.String()}
	if e.Settlement != nil {
		ev.ToBeneficiary = e.Settlement.ToBeneficiary
		ev.ToDepositor = e.Settlement.ToDepositor
	}
	return ev
}

func transferError(err error) error {
	if errors.Is(err, token.ErrInsufficientFunds) {
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	return fmt.Errorf("escrow: transfer: %w", err)
}

// Get returns the escrow and whether it exists.
func (m *Manager) Get(ctx context.Context, id ID) (Escrow, bool, error) {
	var (
		e     Escrow
		found bool
	)
	err := m.exec.View(ctx, "escrow.get", func(ctx context.Context, tx ledger.Tx) error {
		loaded, err := m.repo.Load(ctx, tx, id)
		if errors.Is(err, ErrEscrowNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		e, found = loaded, true
		return nil
	})
	return e, found, err
}

// Approvals returns the votes recorded since the escrow was funded or last
// disputed.
func (m *Manager) Approvals(ctx context.Context, id ID) (ReleaseApproval, error) {
	var a ReleaseApproval
	err := m.exec.View(ctx, "escrow.approvals", func(ctx context.Context, tx ledger.Tx) error {
		if _, err := m.repo.Load(ctx, tx, id); err != nil {
			return err
		}
		var err error
		a, err = m.repo.Approvals(ctx, tx, id)
		return err
	})
	return a, err
}

// ForAgreement returns the escrow linked to an agreement, if any.
func (m *Manager) ForAgreement(ctx context.Context, agreementID string) (Escrow, bool, error) {
	var (
		e     Escrow
		found bool
	)
	err := m.exec.View(ctx, "escrow.for_agreement", func(ctx context.Context, tx ledger.Tx) error {
		id, ok, err := m.repo.Linked(ctx, tx, agreementID)
		if err != nil || !ok {
			return err
		}
		e, err = m.repo.Load(ctx, tx, id)
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return e, found, err
}
