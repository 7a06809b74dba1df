// Package provider defines the identity provider consumed by the session
// store, plus the postgres-backed implementation used in production.
package provider

import (
	"context"
	"errors"

	"shopez/internal/pubsub"
)

var (
	// ErrInvalidCredentials is returned when email/password do not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailTaken is returned when registering an email that already has
	// an account.
	ErrEmailTaken = errors.New("email already registered")
)

// Principal is the provider's view of an authenticated user.
type Principal struct {
	ID    string
	Email string
}

// Provider is the external identity provider interface. Auth-state
// subscribers are called with the current principal immediately on
// subscribe, then on every sign-in, registration and sign-out; nil means no
// authenticated principal.
type Provider interface {
	RegisterWithPassword(ctx context.Context, email, password string) (*Principal, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Principal, error)
	SignOut(ctx context.Context) error
	SubscribeAuthState(fn func(*Principal)) (pubsub.Subscription, error)
}
