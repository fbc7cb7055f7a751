package broker

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Claims is the subset of provider claims the gateway reads. Cryptographic
// validation of the issuing token is the provider's and backend's job, not
// ours; these are treated as facts.
type Claims struct {
	Subject  string
	ObjectID string
	Email    string
	Emails   []string
	Name     string
	Username string
	Nonce    string
}

// DeriveIdentity normalizes provider claims into an Identity.
//
// Email preference order: the structured email claim, then the first entry of
// the alternate emails list, then the account username. Display name falls
// back from the name claim to the username.
func DeriveIdentity(c Claims) (Identity, error) {
	externalID := c.ObjectID
	if externalID == "" {
		externalID = c.Subject
	}
	if externalID == "" {
		return Identity{}, errors.New("[DeriveIdentity] claims carry no stable account id")
	}

	email := c.Email
	if email == "" && len(c.Emails) > 0 {
		email = c.Emails[0]
	}
	if email == "" {
		email = c.Username
	}

	name := c.Name
	if name == "" {
		name = c.Username
	}

	return Identity{
		ExternalID:  externalID,
		Email:       email,
		DisplayName: name,
	}, nil
}

// ParseRawClaims extracts Claims from a raw compact JWT without verifying its
// signature. Verification is delegated to the provider and the backend.
func ParseRawClaims(rawToken string) (Claims, error) {
	mapClaims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, mapClaims); err != nil {
		return Claims{}, errors.Wrap(err, "[ParseRawClaims] parse token")
	}
	return claimsFromMap(mapClaims), nil
}

func claimsFromMap(m map[string]any) Claims {
	c := Claims{
		Subject:  stringClaim(m, "sub"),
		ObjectID: stringClaim(m, "oid"),
		Email:    stringClaim(m, "email"),
		Name:     stringClaim(m, "name"),
		Username: stringClaim(m, "preferred_username"),
		Nonce:    stringClaim(m, "nonce"),
	}
	if list, ok := m["emails"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				c.Emails = append(c.Emails, s)
			}
		}
	}
	return c
}

func stringClaim(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
