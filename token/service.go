package token

import (
	"context"
	"errors"

	"rentledger/auth"
	"rentledger/ledger"
)

// ErrNotIssuer is returned when someone other than the issuer mints.
var ErrNotIssuer = errors.New("token: caller is not the issuer")

// Service exposes minting and balance queries as standalone invocations.
type Service struct {
	exec   *ledger.Executor
	authz  auth.Authorizer
	ledger *Ledger
	issuer string
}

func NewService(exec *ledger.Executor, authz auth.Authorizer, l *Ledger, issuer string) *Service {
	return &Service{exec: exec, authz: authz, ledger: l, issuer: issuer}
}

// Mint credits amount of token to holder. Only the issuer may mint.
func (s *Service) Mint(ctx context.Context, issuer, token, to string, amount int64) error {
	return s.exec.Run(ctx, "token.mint", "balance:"+token+":"+to, func(ctx context.Context, tx ledger.Tx) error {
		if err := s.authz.RequireAuth(ctx, issuer); err != nil {
			return err
		}
		if s.issuer == "" || issuer != s.issuer {
			return ErrNotIssuer
		}
		return s.ledger.Mint(ctx, tx, token, to, amount)
	})
}

// Balance returns holder's current balance of token.
func (s *Service) Balance(ctx context.Context, token, holder string) (int64, error) {
	var bal int64
	err := s.exec.View(ctx, "token.balance", func(ctx context.Context, tx ledger.Tx) error {
		var err error
		bal, err = s.ledger.Balance(ctx, tx, token, holder)
		return err
	})
	return bal, err
}
