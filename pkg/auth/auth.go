package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnauthenticated = errors.New("caller not authenticated")
	ErrWrongCaller     = errors.New("caller does not control identity")
)

type callerKey struct{}

// WithCaller attaches a proven identity to ctx.
// Only call this after the caller's signature has been verified.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// CallerFrom returns the proven identity carried by ctx
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// ContextAuthenticator checks identities against the caller set by WithCaller
type ContextAuthenticator struct{}

// RequireCaller fails unless ctx carries exactly identity
func (ContextAuthenticator) RequireCaller(ctx context.Context, identity common.Address) error {
	caller, ok := CallerFrom(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if caller != identity {
		return fmt.Errorf("%w: caller=%s identity=%s", ErrWrongCaller, caller.Hex(), identity.Hex())
	}
	return nil
}
