// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
)

// ErrTokenRejected is returned when an API token fails authentication.
// Enterprise implementations should wrap this error with the reason so
// the HTTP layer can map it to a 401 uniformly.
var ErrTokenRejected = errors.New("api token rejected")

// Principal identifies an authenticated caller.
//
// The open source version always produces the local principal. In
// enterprise deployments the fields come from the identity provider.
type Principal struct {
	// ID is the stable identifier of the caller.
	// The local single-user deployment uses "local".
	ID string

	// Name is a human-readable label for audit events and logs.
	Name string
}

// LocalPrincipal is the caller on a single-user local deployment.
var LocalPrincipal = Principal{ID: "local", Name: "Local User"}

// TokenAuthenticator validates API tokens on the HTTP surface.
//
// Implementations must be safe for concurrent use. Authenticate runs
// on every request, so it should be cheap or cached.
//
// # Open Source Behavior
//
// The default LocalAuthenticator accepts every request, including
// requests with no token at all. A vault daemon bound to localhost for
// one user needs no token exchange.
//
// # Enterprise Implementation
//
// Enterprise versions validate bearer tokens against an identity
// provider and return the matching principal:
//
//	func (a *OktaAuthenticator) Authenticate(ctx context.Context, token string) (Principal, error) {
//	    claims, err := a.verifier.Verify(ctx, token)
//	    if err != nil {
//	        return Principal{}, fmt.Errorf("%w: %v", ErrTokenRejected, err)
//	    }
//	    return Principal{ID: claims.Subject, Name: claims.Name}, nil
//	}
type TokenAuthenticator interface {
	// Authenticate validates a bearer token and returns the caller.
	//
	// The token arrives without the "Bearer " prefix and may be
	// empty. Errors should wrap ErrTokenRejected.
	Authenticate(ctx context.Context, token string) (Principal, error)
}

// LocalAuthenticator is the default authenticator for open source.
//
// It accepts every request as the local user. Appropriate for a
// localhost-bound single-user daemon.
//
// Thread-safe: this implementation has no mutable state.
type LocalAuthenticator struct{}

// Authenticate returns the local principal for any token.
func (a *LocalAuthenticator) Authenticate(ctx context.Context, token string) (Principal, error) {
	return LocalPrincipal, nil
}

// Compile-time interface compliance check.
var _ TokenAuthenticator = (*LocalAuthenticator)(nil)

// principalKey is the context key for the authenticated principal.
type principalKey struct{}

// WithPrincipal returns a context carrying the authenticated caller.
// The HTTP layer attaches it after authentication so downstream code
// (audit events in particular) knows who is acting.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the authenticated caller from the context,
// falling back to LocalPrincipal when none was attached.
func PrincipalFrom(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok {
		return p
	}
	return LocalPrincipal
}
