// Package credentials defines the token pair the client authenticates with
// and the narrow storage port the vault CLI persists it behind.
package credentials

import "time"

// Credentials is the access/refresh token pair for the vault service. Token
// values are opaque secrets; they must never appear in logs or error
// messages.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
}

// ExpiresWithin reports whether the access token expires within d. An absent
// expiry hint is treated as not expiring; the server's 401 remains the source
// of truth.
func (c *Credentials) ExpiresWithin(d time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(d).After(c.ExpiresAt)
}

// Clone returns an independent copy so callers can hold one across a
// refresh without observing a concurrent mutation.
func (c *Credentials) Clone() *Credentials {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
