package wizard

// Page is the locally-owned presentation state. It is a pure projection of
// the engine lifecycle state; the wizard computes it, the UI renders it.
type Page int

const (
	// PageBusy is a waiting state with no user interaction.
	PageBusy Page = iota
	// PageHome shows the server list.
	PageHome
	// PageSelectLocation asks the user for a secure-internet location.
	PageSelectLocation
	// PageAuthorization tells the user to finish authorization in the
	// browser.
	PageAuthorization
	// PageSelectProfile asks the user to pick a VPN profile.
	PageSelectProfile
	// PageConnection shows the connection status.
	PageConnection
)

// String returns a stable name for the page.
func (p Page) String() string {
	switch p {
	case PageHome:
		return "home"
	case PageSelectLocation:
		return "select_location"
	case PageAuthorization:
		return "authorization"
	case PageSelectProfile:
		return "select_profile"
	case PageConnection:
		return "connection"
	default:
		return "busy"
	}
}
