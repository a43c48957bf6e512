package agreement

import (
	"context"
	"fmt"

	"rentledger/ledger"
)

// Repository reads and writes agreements inside a ledger transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func agreementKey(id string) ledger.Key {
	return ledger.NewKey(ledger.KindAgreement, id)
}

var countKey = ledger.NewKey(ledger.KindAgreementCount)

// Exists reports whether an agreement is stored under id.
func (r *Repository) Exists(ctx context.Context, tx ledger.Tx, id string) (bool, error) {
	ok, err := tx.Has(ctx, agreementKey(id))
	if err != nil {
		return false, fmt.Errorf("agreement: lookup %s: %w", id, err)
	}
	return ok, nil
}

// Load returns the agreement or ErrAgreementNotFound.
func (r *Repository) Load(ctx context.Context, tx ledger.Tx, id string) (RentAgreement, error) {
	var a RentAgreement
	ok, err := tx.Get(ctx, agreementKey(id), &a)
	if err != nil {
		return RentAgreement{}, fmt.Errorf("agreement: load %s: %w", id, err)
	}
	if !ok {
		return RentAgreement{}, ErrAgreementNotFound
	}
	return a, nil
}

// Save persists the full agreement record.
func (r *Repository) Save(ctx context.Context, tx ledger.Tx, a *RentAgreement) error {
	if err := tx.Set(ctx, agreementKey(a.ID), a); err != nil {
		return fmt.Errorf("agreement: save %s: %w", a.ID, err)
	}
	return nil
}

// Count returns the number of agreements ever created.
func (r *Repository) Count(ctx context.Context, tx ledger.Tx) (uint32, error) {
	var n uint32
	if _, err := tx.Get(ctx, countKey, &n); err != nil {
		return 0, fmt.Errorf("agreement: load count: %w", err)
	}
	return n, nil
}

func (r *Repository) incrementCount(ctx context.Context, tx ledger.Tx) error {
	n, err := r.Count(ctx, tx)
	if err != nil {
		return err
	}
	if err := tx.Set(ctx, countKey, n+1); err != nil {
		return fmt.Errorf("agreement: save count: %w", err)
	}
	return nil
}
