package wizard

import (
	"time"

	"github.com/Amebis/eduvpn-client/internal/discovery"
	"github.com/Amebis/eduvpn-client/internal/engine"
)

// Session is a live VPN session. It is created when a configuration has
// been obtained and the target server resolved, and destroyed on
// disconnect, expiry or error. At most one session is active at a time;
// the wizard owns it.
type Session struct {
	// Server is the server this session connects to.
	Server discovery.Server

	// Config is the tunnel configuration handed to the data plane.
	Config engine.Config

	// Expiry is the validity window reported by the engine.
	Expiry engine.Expiry

	// StartedAt is when the session was activated.
	StartedAt time.Time
}

// Expired reports whether the session's validity window has passed.
func (s *Session) Expired() bool {
	if s.Expiry.EndTime.IsZero() {
		return false
	}
	return time.Now().After(s.Expiry.EndTime)
}
