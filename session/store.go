// Package session owns durable storage of the access credential and the
// reconciled user record. The two entries live and die together: partial
// state is tolerated only inside the reconciliation window, never across a
// process restart.
package session

import (
	"context"

	"github.com/tallerpinturas/go-gallery-gateway/users"
)

// Storage keys. They match the backend's wire vocabulary so an operator
// inspecting the store sees familiar names.
const (
	KeyCredential = "token"
	KeyUser       = "usuario_app"
)

// Store is the persisted session store. Implementations cache the user
// record in memory and fall back to the durable copy, discarding a malformed
// durable value as "no session" rather than failing.
type Store interface {
	// SetCredential commits the raw bearer credential.
	SetCredential(ctx context.Context, token string) error

	// Credential returns the committed credential, empty when absent.
	Credential(ctx context.Context) (string, error)

	// SetUser commits the reconciled user, overwriting any prior value.
	SetUser(ctx context.Context, u users.User) error

	// User returns the committed user. The second return is false when no
	// session exists, including when the durable value is malformed.
	User(ctx context.Context) (users.User, bool, error)

	// Clear removes credential and user together.
	Clear(ctx context.Context) error

	// IsPrivileged reports whether the committed user holds the privileged
	// role. It re-reads durable storage when no cached copy exists, so the
	// answer is correct immediately after a restart.
	IsPrivileged(ctx context.Context) bool

	// Close releases the underlying storage.
	Close() error
}
