// Package broker defines the normalized surface the gateway consumes from the
// external identity provider: interactive login, logout, account queries, and
// the lifecycle event stream. The provider SDK itself stays behind the Broker
// interface so reconciliation and revalidation can run against fakes.
package broker

import (
	"context"
	"errors"
)

var (
	// LoginCancelledErr is returned when the user abandons or denies the
	// interactive flow. Silent retry is allowed; no session is created.
	LoginCancelledErr = errors.New("login cancelled by user")

	// LoginFailedErr is returned when the provider rejects the flow for any
	// other reason (bad code exchange, missing tokens).
	LoginFailedErr = errors.New("login failed")

	// AlreadyInitialisedErr signals that provider initialization already ran.
	// Callers treat it as success, never as a failure.
	AlreadyInitialisedErr = errors.New("broker already initialised")

	// UnknownStateErr is returned when a callback carries a state value that
	// no pending login produced.
	UnknownStateErr = errors.New("unknown login state")
)

// Identity is the canonical record derived from provider-issued claims on a
// successful login. Immutable once derived for a given login event.
type Identity struct {
	ExternalID  string
	Email       string
	DisplayName string
}

// Account is an entry in the provider's own account cache. The gateway reads
// it but does not own it.
type Account struct {
	ExternalID  string
	Username    string
	DisplayName string
}

// EventType tags provider lifecycle signals.
type EventType string

const (
	EventLoginSuccess EventType = "login_success"
	EventTokenRefresh EventType = "token_refresh"
)

// Event is a provider lifecycle signal consumed by the revalidation watcher.
type Event struct {
	Type    EventType
	Account Account
}

// Challenge is the first half of an interactive login: the URL the user agent
// must visit and the opaque state that ties the eventual callback back to
// this attempt.
type Challenge struct {
	URL   string
	State string
}

// Callback carries the provider's answer to a Challenge.
type Callback struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// CredentialSink receives the raw bearer credential the moment the provider
// issues it. Satisfied by session.Store. The broker commits the credential
// before returning the identity so reconciliation calls have a token to send.
type CredentialSink interface {
	SetCredential(ctx context.Context, token string) error
}

// Broker is the capability interface over the external identity provider.
type Broker interface {
	// Initialize performs one-shot provider setup. A second call returns
	// AlreadyInitialisedErr, which callers treat as success.
	Initialize(ctx context.Context) error

	// BeginLogin starts an interactive authentication flow requesting basic
	// identity scopes.
	BeginLogin(ctx context.Context) (Challenge, error)

	// CompleteLogin resolves an interactive flow. On success the credential
	// has already been committed to the CredentialSink, the authenticated
	// account is the provider's active account, and an EventLoginSuccess has
	// been emitted.
	CompleteLogin(ctx context.Context, cb Callback) (Identity, error)

	// Logout clears the provider-side account cache and returns the
	// provider's interactive logout URL, which redirects back to the
	// application root. Local session state must be cleared by the caller
	// before invoking Logout.
	Logout(ctx context.Context) (redirectURL string, err error)

	// Accounts returns the provider's current account cache, in order.
	Accounts() []Account

	// SetActiveAccount marks the cached account with the given external id
	// as active. Unknown ids are ignored.
	SetActiveAccount(externalID string)

	// ActiveAccount returns the active account, if any.
	ActiveAccount() (Account, bool)

	// Events returns the provider lifecycle event stream.
	Events() <-chan Event

	// Close releases the event stream. No events are delivered afterwards.
	Close()
}
