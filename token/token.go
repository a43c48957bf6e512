// Package token implements fungible-token balances inside the ledger key
// space, so transfers commit or roll back together with the business state
// that triggered them.
package token

import (
	"context"
	"errors"
	"fmt"
	"math"

	"rentledger/ledger"
)

var (
	ErrInvalidAmount     = errors.New("token: invalid amount")
	ErrInsufficientFunds = errors.New("token: insufficient funds")
	ErrInvalidAddress    = errors.New("token: invalid address")
	ErrOverflow          = errors.New("token: balance overflow")
)

// Transferer moves value between holders of one token.
type Transferer interface {
	Transfer(ctx context.Context, tx ledger.Tx, token, from, to string, amount int64) error
}

// Ledger is the token primitive backed by ledger.Tx.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

func balanceKey(token, holder string) ledger.Key {
	return ledger.NewKey(ledger.KindBalance, token, holder)
}

// Balance returns holder's balance of token; absent holders have zero.
func (l *Ledger) Balance(ctx context.Context, tx ledger.Tx, token, holder string) (int64, error) {
	var bal int64
	if _, err := tx.Get(ctx, balanceKey(token, holder), &bal); err != nil {
		return 0, fmt.Errorf("token: read balance: %w", err)
	}
	return bal, nil
}

// Mint credits amount of token to holder out of thin air.
func (l *Ledger) Mint(ctx context.Context, tx ledger.Tx, token, to string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if token == "" || to == "" {
		return ErrInvalidAddress
	}
	return l.credit(ctx, tx, token, to, amount)
}

func (l *Ledger) Transfer(ctx context.Context, tx ledger.Tx, token, from, to string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if token == "" || from == "" || to == "" {
		return ErrInvalidAddress
	}
	if from == to {
		return nil
	}

	fromBal, err := l.Balance(ctx, tx, token, from)
	if err != nil {
		return err
	}
	if fromBal < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, from, fromBal, amount)
	}
	if err := tx.Set(ctx, balanceKey(token, from), fromBal-amount); err != nil {
		return fmt.Errorf("token: debit: %w", err)
	}
	return l.credit(ctx, tx, token, to, amount)
}

func (l *Ledger) credit(ctx context.Context, tx ledger.Tx, token, to string, amount int64) error {
	bal, err := l.Balance(ctx, tx, token, to)
	if err != nil {
		return err
	}
	if bal > math.MaxInt64-amount {
		return ErrOverflow
	}
	if err := tx.Set(ctx, balanceKey(token, to), bal+amount); err != nil {
		return fmt.Errorf("token: credit: %w", err)
	}
	return nil
}
