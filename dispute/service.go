// Package dispute lets a primary party freeze a funded escrow and the arbiter
// settle it unilaterally.
package dispute

import (
	"context"
	"strings"

	"rentledger/auth"
	"rentledger/escrow"
	"rentledger/events"
	"rentledger/ledger"
	"rentledger/token"
)

type Handler struct {
	exec   *ledger.Executor
	authz  auth.Authorizer
	tokens token.Transferer
	repo   *escrow.Repository
}

func NewHandler(exec *ledger.Executor, authz auth.Authorizer, tokens token.Transferer) *Handler {
	return &Handler{
		exec:   exec,
		authz:  authz,
		tokens: tokens,
		repo:   escrow.NewRepository(),
	}
}

// RaiseDispute moves a funded escrow to Disputed and discards pending votes.
func (h *Handler) RaiseDispute(ctx context.Context, caller string, id escrow.ID, reason string) (escrow.Escrow, error) {
	var out escrow.Escrow
	err := h.exec.Run(ctx, "dispute.raise", escrow.LockKey(id), func(ctx context.Context, tx ledger.Tx) error {
		if err := h.authz.RequireAuth(ctx, caller); err != nil {
			return err
		}
		e, err := h.repo.Load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := escrow.IsPrimaryParty(&e, caller); err != nil {
			return err
		}
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return escrow.ErrInvalidReason
		}
		next, err := e.Status.Next(escrow.OpDispute)
		if err != nil {
			return err
		}

		e.Status = next
		e.DisputeReason = &reason
		if err := h.repo.Save(ctx, tx, &e); err != nil {
			return err
		}
		if err := h.repo.ClearApprovals(ctx, tx, id); err != nil {
			return err
		}
		out = e
		return tx.Emit(ctx, events.TopicEscrowDisputed, events.EscrowDisputed{
			EscrowID: id.String(),
			RaisedBy: caller,
			Reason:   reason,
		})
	})
	if err != nil {
		return escrow.Escrow{}, err
	}
	return out, nil
}

// Resolve settles a disputed escrow according to the arbiter's ruling. The
// dispute reason is kept.
func (h *Handler) Resolve(ctx context.Context, arbiter string, id escrow.ID, outcome Outcome) (escrow.Escrow, error) {
	var out escrow.Escrow
	err := h.exec.Run(ctx, "dispute.resolve", escrow.LockKey(id), func(ctx context.Context, tx ledger.Tx) error {
		if err := h.authz.RequireAuth(ctx, arbiter); err != nil {
			return err
		}
		e, err := h.repo.Load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := escrow.IsArbiter(&e, arbiter); err != nil {
			return err
		}
		if e.Status != escrow.StatusDisputed {
			return escrow.ErrInvalidState
		}
		toBeneficiary, op, err := outcome.payout(e.Amount)
		if err != nil {
			return err
		}
		if err := escrow.Settle(ctx, tx, h.tokens, &e, op, toBeneficiary); err != nil {
			return err
		}
		if err := h.repo.Save(ctx, tx, &e); err != nil {
			return err
		}
		out = e
		return tx.Emit(ctx, events.TopicEscrowResolved, escrow.SettledEvent(&e))
	})
	if err != nil {
		return escrow.Escrow{}, err
	}
	return out, nil
}
