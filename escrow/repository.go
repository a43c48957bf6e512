package escrow

import (
	"context"
	"fmt"

	"rentledger/ledger"
)

// Repository reads and writes escrows, their approvals and agreement links
// inside a ledger transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func escrowKey(id ID) ledger.Key {
	return ledger.NewKey(ledger.KindEscrow, id.String())
}

func approvalKey(id ID) ledger.Key {
	return ledger.NewKey(ledger.KindApproval, id.String())
}

func agreementLinkKey(agreementID string) ledger.Key {
	return ledger.NewKey(ledger.KindAgreementEscrow, agreementID)
}

// Load returns the escrow or ErrEscrowNotFound.
func (r *Repository) Load(ctx context.Context, tx ledger.Tx, id ID) (Escrow, error) {
	var e Escrow
	ok, err := tx.Get(ctx, escrowKey(id), &e)
	if err != nil {
		return Escrow{}, fmt.Errorf("escrow: load %s: %w", id, err)
	}
	if !ok {
		return Escrow{}, ErrEscrowNotFound
	}
	return e, nil
}

func (r *Repository) Save(ctx context.Context, tx ledger.Tx, e *Escrow) error {
	if err := tx.Set(ctx, escrowKey(e.ID), e); err != nil {
		return fmt.Errorf("escrow: save %s: %w", e.ID, err)
	}
	return nil
}

// Approvals returns the pending votes; a missing entry means no votes.
func (r *Repository) Approvals(ctx context.Context, tx ledger.Tx, id ID) (ReleaseApproval, error) {
	var a ReleaseApproval
	if _, err := tx.Get(ctx, approvalKey(id), &a); err != nil {
		return ReleaseApproval{}, fmt.Errorf("escrow: load approvals %s: %w", id, err)
	}
	return a, nil
}

func (r *Repository) SaveApprovals(ctx context.Context, tx ledger.Tx, id ID, a ReleaseApproval) error {
	if err := tx.Set(ctx, approvalKey(id), a); err != nil {
		return fmt.Errorf("escrow: save approvals %s: %w", id, err)
	}
	return nil
}

// ClearApprovals discards every pending vote.
func (r *Repository) ClearApprovals(ctx context.Context, tx ledger.Tx, id ID) error {
	return r.SaveApprovals(ctx, tx, id, ReleaseApproval{})
}

// Linked returns the escrow bound to an agreement, if any.
func (r *Repository) Linked(ctx context.Context, tx ledger.Tx, agreementID string) (ID, bool, error) {
	var id ID
	ok, err := tx.Get(ctx, agreementLinkKey(agreementID), &id)
	if err != nil {
		return ID{}, false, fmt.Errorf("escrow: load agreement link %s: %w", agreementID, err)
	}
	return id, ok, nil
}

func (r *Repository) link(ctx context.Context, tx ledger.Tx, agreementID string, id ID) error {
	if err := tx.Set(ctx, agreementLinkKey(agreementID), id); err != nil {
		return fmt.Errorf("escrow: save agreement link %s: %w", agreementID, err)
	}
	return nil
}
