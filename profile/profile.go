// Package profile talks to the backend-owned user profile service: the
// create-or-update sync endpoint and the authoritative profile reads. The
// Backend interface keeps reconciliation testable against fakes.
package profile

import (
	"context"
	"errors"

	"github.com/tallerpinturas/go-gallery-gateway/users"
)

// NotFoundErr is returned when the backend has no profile for the requested
// external id. A profile genuinely may not exist yet right after a sync.
var NotFoundErr = errors.New("profile not found")

// SyncRequest is the create-or-update payload sent on every login.
type SyncRequest struct {
	ExternalID  string `json:"id_azure"`
	Username    string `json:"username"`
	DisplayName string `json:"nombre_completo"`
}

// Backend is the capability interface over the profile service.
type Backend interface {
	// Sync creates or updates the backend user record for an external
	// identity. Reconciliation cannot proceed without it.
	Sync(ctx context.Context, req SyncRequest) error

	// Profile fetches the authoritative profile, including the role.
	Profile(ctx context.Context, externalID string) (users.User, error)

	// Users lists all backend users. Admin use.
	Users(ctx context.Context) ([]users.User, error)
}
