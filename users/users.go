package users

import "encoding/json"

// RoleID identifies a backend-owned role. The backend is the source of truth
// for the role catalogue; only the two roles the gateway reasons about are
// named here.
type RoleID int

const (
	// RoleAdmin is the single privileged role recognised by the gateway.
	RoleAdmin RoleID = 1

	// RoleArtist is the lowest-privilege non-guest role. It is the fallback
	// assigned when a profile fetch fails after a successful sync.
	RoleArtist RoleID = 2
)

// DefaultRoleID is the role committed when the backend profile cannot be read.
const DefaultRoleID = RoleArtist

// User is the canonical local session subject: an external identity merged
// with the backend profile record (or the fallback default when that record
// could not be fetched).
type User struct {
	ExternalID  string `json:"id_azure"`
	Username    string `json:"username"`
	DisplayName string `json:"nombre_completo"`
	RoleID      RoleID `json:"id_rol,omitempty"`

	// Extra carries backend-defined fields the gateway does not interpret.
	// They survive the round-trip through the session store verbatim.
	Extra map[string]json.RawMessage `json:"-"`
}

// IsPrivileged reports whether the user holds the privileged role.
func (u User) IsPrivileged() bool {
	return u.RoleID == RoleAdmin
}

// userAlias avoids MarshalJSON/UnmarshalJSON recursion.
type userAlias User

// knownKeys are the wire fields owned by the User struct itself.
var knownKeys = map[string]struct{}{
	"id_azure":        {},
	"username":        {},
	"nombre_completo": {},
	"id_rol":          {},
}

// UnmarshalJSON decodes the declared fields and preserves everything else in
// Extra, so a backend record committed to the session store is reproduced
// byte-for-byte in meaning when read back.
func (u *User) UnmarshalJSON(data []byte) error {
	var alias userAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range knownKeys {
		delete(raw, k)
	}
	if len(raw) == 0 {
		raw = nil
	}

	alias.Extra = raw
	*u = User(alias)
	return nil
}

// MarshalJSON emits the declared fields plus any preserved backend extras.
func (u User) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(userAlias(u))
	if err != nil {
		return nil, err
	}
	if len(u.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range u.Extra {
		if _, owned := knownKeys[k]; owned {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}
