// Package engine defines the contract with the external provisioning engine.
//
// The engine owns the high-level VPN lifecycle. It is consumed only through
// this contract: a stream of lifecycle events plus a small set of imperative,
// cancellable operations. The client never forces a lifecycle transition
// directly.
package engine

import (
	"context"
	"time"

	"github.com/Amebis/eduvpn-client/internal/discovery"
)

// State is a lifecycle state reported by the provisioning engine.
type State int

const (
	StateDeregistered State = iota
	StateMain
	StateAddingServer
	StateGettingConfig
	StateGotConfig
	StateAskLocation
	StateAskProfile
	StateOAuthStarted
	StateConnecting
	StateConnected
	StateDisconnecting
	StateDisconnected
)

// String returns the engine's wire name for the state.
func (s State) String() string {
	switch s {
	case StateDeregistered:
		return "deregistered"
	case StateMain:
		return "main"
	case StateAddingServer:
		return "adding_server"
	case StateGettingConfig:
		return "getting_config"
	case StateGotConfig:
		return "got_config"
	case StateAskLocation:
		return "ask_location"
	case StateAskProfile:
		return "ask_profile"
	case StateOAuthStarted:
		return "oauth_started"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// DisconnectReason explains why the engine reported StateDisconnected.
type DisconnectReason int

const (
	// DisconnectNone means no reason was reported (e.g. user-initiated).
	DisconnectNone DisconnectReason = iota
	// DisconnectExpired means the session reached its expiry time.
	DisconnectExpired
	// DisconnectError means the tunnel failed.
	DisconnectError
)

// String returns a stable name for the disconnect reason.
func (r DisconnectReason) String() string {
	switch r {
	case DisconnectExpired:
		return "expired"
	case DisconnectError:
		return "error"
	default:
		return "none"
	}
}

// Profile is one VPN profile offered by a server.
type Profile struct {
	// ID is the engine-assigned profile identifier.
	ID string

	// DisplayName is the human-readable profile name.
	DisplayName string
}

// Event is one lifecycle transition emitted by the engine.
// Only the payload fields relevant to the state are populated:
// Locations for StateAskLocation, Profiles for StateAskProfile,
// AuthURL for StateOAuthStarted and Reason for StateDisconnected.
type Event struct {
	State     State
	Locations []string
	Profiles  []Profile
	AuthURL   string
	Reason    DisconnectReason
}

// Config is a VPN configuration produced by GetConfig.
type Config struct {
	// Payload is the tunnel configuration (OpenVPN config or WireGuard ini).
	Payload string

	// Protocol is the tunnel protocol, "openvpn" or "wireguard".
	Protocol string

	// DefaultGateway reports whether all traffic should be routed through
	// the tunnel.
	DefaultGateway bool
}

// Expiry holds the session validity times reported by the engine.
type Expiry struct {
	// StartTime is when the session became valid.
	StartTime time.Time

	// EndTime is when the session expires and the tunnel must come down.
	EndTime time.Time

	// ButtonTime is when a renew prompt may be shown to the user.
	ButtonTime time.Time
}

// Engine is the provisioning engine collaborator.
//
// Events delivers lifecycle transitions for the lifetime of the engine; the
// channel is closed when the engine deregisters. Every imperative operation
// honors context cancellation; the caller is expected to derive the context
// from an operation cookie (see Slot) so that at most one operation is in
// flight at a time.
type Engine interface {
	// Events returns the lifecycle event stream.
	Events() <-chan Event

	// AddServer registers a server with the engine.
	AddServer(ctx context.Context, identity string) error

	// RemoveServer removes a server and its engine-side state.
	RemoveServer(ctx context.Context, identity string) error

	// GetConfig obtains a VPN configuration for the server. This may drive
	// the engine through OAuthStarted/AskProfile/AskLocation states before
	// returning.
	GetConfig(ctx context.Context, identity string, preferTCP bool) (*Config, error)

	// Disconnect tears down the current tunnel. The engine reports the
	// teardown through Disconnecting and Disconnected events.
	Disconnect(ctx context.Context) error

	// SetProfileID answers a pending AskProfile state.
	SetProfileID(ctx context.Context, profileID string) error

	// SetSecureInternetLocation answers a pending AskLocation state.
	SetSecureInternetLocation(ctx context.Context, countryCode string) error

	// RenewSession invalidates the server's authorization so the next
	// GetConfig performs a fresh interactive flow.
	RenewSession(ctx context.Context, identity string) error

	// CurrentServer returns the server the engine currently targets.
	CurrentServer(ctx context.Context) (*discovery.Server, error)

	// ExpiryTimes returns the validity window of the current session.
	ExpiryTimes(ctx context.Context) (*Expiry, error)

	// ServerList returns all servers known to the engine.
	ServerList(ctx context.Context) ([]discovery.Server, error)
}
