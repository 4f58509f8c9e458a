// Package cred is the credential store: a lock-guarded in-memory map from
// server identity to stored access token, backed by durable settings.
package cred

import (
	"time"
)

// Token is an access token issued for one server identity.
//
// Tokens are immutable once issued; a refresh produces a new Token value.
// A zero Expiry means the token never expires on its own and is only ever
// replaced after an explicit 401 or a forced refresh.
type Token struct {
	// Value is the bearer token presented to the server API.
	Value string

	// RefreshToken, when non-empty, allows the token to be refreshed at
	// the token endpoint without user interaction.
	RefreshToken string

	// Scope is the set of scopes the token was granted for.
	Scope []string

	// Expiry is the absolute expiry time, or zero when the token does
	// not expire.
	Expiry time.Time

	// Invalid marks a token the server has rejected at the semantic
	// level. A marked token is dropped from the store on the next
	// authorization attempt instead of being refreshed.
	Invalid bool
}

// Expired reports whether the token has passed its expiry time.
// Tokens without an expiry never report expired.
func (t *Token) Expired() bool {
	if t.Expiry.IsZero() {
		return false
	}
	return time.Now().After(t.Expiry)
}

// CanRefresh reports whether the token carries refresh capability.
func (t *Token) CanRefresh() bool {
	return t.RefreshToken != ""
}

// HasScope reports whether the token was granted the given scope.
func (t *Token) HasScope(scope string) bool {
	for _, s := range t.Scope {
		if s == scope {
			return true
		}
	}
	return false
}
