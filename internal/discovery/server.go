// Package discovery models the servers a user can connect to.
//
// A server is one of three kinds: an institute-access server added by its
// base URL, a secure-internet server selected through an organization, or a
// server the user typed in by hand ("own" server). The kinds share a common
// core and carry kind-specific fields only where valid.
package discovery

// ServerType tags the kind of a Server.
type ServerType int

const (
	// TypeInstituteAccess is a server offered by the user's own institute.
	TypeInstituteAccess ServerType = iota
	// TypeSecureInternet is a server reached through a federated
	// secure-internet organization.
	TypeSecureInternet
	// TypeOwn is a server the user added by URL.
	TypeOwn
)

// String returns a stable name for the server type.
func (t ServerType) String() string {
	switch t {
	case TypeInstituteAccess:
		return "institute_access"
	case TypeSecureInternet:
		return "secure_internet"
	case TypeOwn:
		return "own"
	default:
		return "unknown"
	}
}

// Server identifies one VPN server known to the engine.
//
// Identity is the opaque key used for all credential and certificate caching;
// equality is exact string match. SecureInternet is non-nil only when Type is
// TypeSecureInternet.
type Server struct {
	// Identity is the server's base URI or engine-assigned identifier.
	Identity string

	// DisplayName is the human-readable server name.
	DisplayName string

	// Type tags which kind of server this is.
	Type ServerType

	// SecureInternet carries the fields that only exist for
	// secure-internet servers.
	SecureInternet *SecureInternetInfo
}

// SecureInternetInfo holds the secure-internet-only server fields.
type SecureInternetInfo struct {
	// OrgID identifies the user's home organization.
	OrgID string

	// CountryCode is the currently selected exit location.
	CountryCode string

	// AuthenticationURLTemplate, when set, must envelope the OAuth
	// authorization URL so the user authenticates via their home
	// organization's portal. See ExpandAuthTemplate.
	AuthenticationURLTemplate string
}

// AuthTemplate returns the server's mandated authentication URL template,
// or "" when the authorization URL is to be opened directly.
func (s *Server) AuthTemplate() string {
	if s.Type == TypeSecureInternet && s.SecureInternet != nil {
		return s.SecureInternet.AuthenticationURLTemplate
	}
	return ""
}

// OrgID returns the organization identifier for secure-internet servers,
// or "" for the other kinds.
func (s *Server) OrgID() string {
	if s.Type == TypeSecureInternet && s.SecureInternet != nil {
		return s.SecureInternet.OrgID
	}
	return ""
}
