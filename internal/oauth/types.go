// Package oauth implements the token authorization protocol: acquiring,
// caching and refreshing OAuth access tokens per server identity, with
// interactive browser authorization through a loopback listener as the
// escalation of last resort.
package oauth

import (
	"errors"

	"github.com/Amebis/eduvpn-client/internal/cred"
)

// SourcePolicy states where a requested token may come from.
type SourcePolicy int

const (
	// SourceAny allows a saved token, a refresh, or interactive
	// authorization, in that order.
	SourceAny SourcePolicy = iota
	// SourceSavedOnly allows only a saved (possibly refreshed) token;
	// no browser is ever opened.
	SourceSavedOnly
	// SourceForceAuthorization skips the cache entirely and performs
	// interactive authorization.
	SourceForceAuthorization
)

// Origin records where a returned token actually came from. Callers use it
// to decide how to escalate when the server rejects the token.
type Origin int

const (
	// OriginNone means no token has been produced yet.
	OriginNone Origin = iota
	// OriginSaved means the token came from the cache unchanged.
	OriginSaved
	// OriginRefreshed means the token was obtained via a refresh call.
	OriginRefreshed
	// OriginAuthorized means the token came from interactive authorization.
	OriginAuthorized
)

// String returns a stable name for the origin.
func (o Origin) String() string {
	switch o {
	case OriginSaved:
		return "saved"
	case OriginRefreshed:
		return "refreshed"
	case OriginAuthorized:
		return "authorized"
	default:
		return "none"
	}
}

// Request is the contract object passed into Authorize. Policy and Scope
// are caller inputs; ForceRefresh is escalated by the caller between
// attempts (see Escalate); Origin and Token are outputs of the last
// attempt.
type Request struct {
	// Scope is the scope set the token must cover.
	Scope []string

	// Policy states where the token may come from.
	Policy SourcePolicy

	// ForceRefresh forces a refresh of a saved token even when it has
	// not expired.
	ForceRefresh bool

	// Origin reports where the returned token came from.
	Origin Origin

	// Token is the token returned by the last successful attempt.
	Token *cred.Token
}

// AuthServer describes the authorization surface of one server identity.
type AuthServer struct {
	// Identity is the credential-store key for this server.
	Identity string

	// AuthorizationEndpoint is the OAuth authorization endpoint URL.
	AuthorizationEndpoint string

	// TokenEndpoint is the OAuth token endpoint URL.
	TokenEndpoint string

	// AuthenticationURLTemplate, when non-empty, envelopes the
	// authorization URL through the organization portal. It may contain
	// the @RETURN_TO@ and @ORG_ID@ placeholders.
	AuthenticationURLTemplate string

	// OrgID is the organization identifier substituted into the template.
	OrgID string
}

// Authorization failure taxonomy. Cancellation is not part of it: a
// cancelled flow returns the context error unchanged.
var (
	// ErrNoAuthorization is returned when the saved-only policy finds no
	// usable token.
	ErrNoAuthorization = errors.New("no authorization for server")

	// ErrInvalidAccessToken is returned when escalation is exhausted:
	// the server rejects even a freshly authorized token.
	ErrInvalidAccessToken = errors.New("access token rejected by server")
)

// Escalate mutates req for the follow-up attempt after a caller saw an
// HTTP 401 on the token from the previous attempt. A 401 on a saved token
// escalates to a forced refresh; a 401 on any other origin escalates to
// forced interactive authorization; a 401 on a freshly authorized token is
// terminal and yields ErrInvalidAccessToken.
//
// This is part of the public contract: every caller must escalate through
// Escalate rather than retrying the same branch, or a server that rejects
// all tokens would loop forever.
func Escalate(req *Request) error {
	switch req.Origin {
	case OriginSaved:
		req.ForceRefresh = true
	case OriginRefreshed:
		req.Policy = SourceForceAuthorization
	default:
		return ErrInvalidAccessToken
	}
	req.Origin = OriginNone
	req.Token = nil
	return nil
}
