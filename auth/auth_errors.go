package auth

import "errors"

var (
	// SyncFailedErr means the backend create-or-update call failed. Fatal
	// for the current login attempt: no user record is committed and the
	// application treats the user as unauthenticated, even though the
	// external provider considers them logged in.
	SyncFailedErr = errors.New("backend sync failed")

	// NotPrivilegedErr is returned when an admin-only operation is invoked
	// without the privileged role.
	NotPrivilegedErr = errors.New("user not privileged")
)
