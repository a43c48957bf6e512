package auth

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when the verified caller did not authorize the
// address an operation acts for.
var ErrUnauthorized = errors.New("auth: caller did not authorize this invocation")

// Authorizer verifies that address authorized the current invocation.
type Authorizer interface {
	RequireAuth(ctx context.Context, address string) error
}

type callerKey struct{}

// WithCaller returns a context carrying the verified caller address.
func WithCaller(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, callerKey{}, address)
}

// CallerFrom extracts the verified caller address, if any.
func CallerFrom(ctx context.Context) (string, bool) {
	address, ok := ctx.Value(callerKey{}).(string)
	return address, ok && address != ""
}

// ContextAuthorizer trusts the caller placed in the context by the transport
// layer after token verification.
type ContextAuthorizer struct{}

func (ContextAuthorizer) RequireAuth(ctx context.Context, address string) error {
	caller, ok := CallerFrom(ctx)
	if !ok {
		return fmt.Errorf("%w: no verified caller", ErrUnauthorized)
	}
	if caller != address {
		return fmt.Errorf("%w: caller %s acting for %s", ErrUnauthorized, caller, address)
	}
	return nil
}
