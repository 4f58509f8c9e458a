package engine

import (
	"time"

	"github.com/Amebis/eduvpn-client/internal/discovery"
)

// Wire envelope types.
const (
	msgEvent    = "event"
	msgResponse = "response"
)

// Operation names.
const (
	opAddServer     = "add_server"
	opRemoveServer  = "remove_server"
	opGetConfig     = "get_config"
	opDisconnect    = "disconnect"
	opSetProfileID  = "set_profile_id"
	opSetLocation   = "set_secure_internet_location"
	opRenewSession  = "renew_session"
	opCurrentServer = "current_server"
	opExpiryTimes   = "expiry_times"
	opServerList    = "server_list"
	opCancel        = "cancel"
)

// request is one imperative operation sent to the engine.
type request struct {
	ID          uint64 `json:"id"`
	Op          string `json:"op"`
	Server      string `json:"server,omitempty"`
	ProfileID   string `json:"profile_id,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	PreferTCP   bool   `json:"prefer_tcp,omitempty"`

	// Ref names the request an opCancel refers to.
	Ref uint64 `json:"ref,omitempty"`
}

// envelope is one line received from the engine: either a lifecycle event
// or a response to a request.
type envelope struct {
	Type string `json:"type"`

	// Event fields.
	State     string           `json:"state,omitempty"`
	Locations []string         `json:"locations,omitempty"`
	Profiles  []profilePayload `json:"profiles,omitempty"`
	AuthURL   string           `json:"auth_url,omitempty"`
	Reason    string           `json:"reason,omitempty"`

	// Response fields.
	ID      uint64          `json:"id,omitempty"`
	Error   string          `json:"error,omitempty"`
	Config  *configPayload  `json:"config,omitempty"`
	Server  *serverPayload  `json:"server,omitempty"`
	Servers []serverPayload `json:"servers,omitempty"`
	Expiry  *expiryPayload  `json:"expiry,omitempty"`
}

type profilePayload struct {
	ID          string `json:"profile_id"`
	DisplayName string `json:"display_name"`
}

type configPayload struct {
	Payload        string `json:"payload"`
	Protocol       string `json:"protocol"`
	DefaultGateway bool   `json:"default_gateway"`
}

type serverPayload struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`

	OrgID           string `json:"org_id,omitempty"`
	CountryCode     string `json:"country_code,omitempty"`
	AuthURLTemplate string `json:"authentication_url_template,omitempty"`
}

type expiryPayload struct {
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	ButtonTime time.Time `json:"button_time"`
}

// stateFromName maps the engine's wire name onto a State.
func stateFromName(name string) (State, bool) {
	for s := StateDeregistered; s <= StateDisconnected; s++ {
		if s.String() == name {
			return s, true
		}
	}
	return StateDeregistered, false
}

// reasonFromName maps the engine's disconnect reason onto the enum.
func reasonFromName(name string) DisconnectReason {
	switch name {
	case "expired":
		return DisconnectExpired
	case "error":
		return DisconnectError
	default:
		return DisconnectNone
	}
}

// serverFromPayload converts a wire server into the model.
func serverFromPayload(p serverPayload) discovery.Server {
	s := discovery.Server{
		Identity:    p.Identity,
		DisplayName: p.DisplayName,
	}
	switch p.Type {
	case "secure_internet":
		s.Type = discovery.TypeSecureInternet
		s.SecureInternet = &discovery.SecureInternetInfo{
			OrgID:                     p.OrgID,
			CountryCode:               p.CountryCode,
			AuthenticationURLTemplate: p.AuthURLTemplate,
		}
	case "own":
		s.Type = discovery.TypeOwn
	default:
		s.Type = discovery.TypeInstituteAccess
	}
	return s
}
