// Package wizard reconciles the provisioning engine's asynchronous
// lifecycle events with locally-owned presentation state, runs the
// connection flows, and owns the single live VPN session.
package wizard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Amebis/eduvpn-client/internal/discovery"
	"github.com/Amebis/eduvpn-client/internal/engine"
	"github.com/Amebis/eduvpn-client/internal/oauth"
	"github.com/Amebis/eduvpn-client/internal/store"
)

// Wizard drives the client's flow control. Engine events are drained onto
// the dispatcher one at a time; connection flows run on background
// goroutines and claim the single operation slot, so at most one engine
// operation is ever in flight.
//
// The notification hooks must be set before Run and are called off the
// dispatcher goroutine only for OnAutoReconnectFailed.
type Wizard struct {
	eng         engine.Engine
	disp        *Dispatcher
	settings    *store.Settings
	openBrowser func(url string) error

	slot engine.Slot

	// OnPageChanged is called on the dispatcher goroutine whenever the
	// presented page changes.
	OnPageChanged func(Page)

	// OnAutoReconnectFailed is called when an auto-start connect fails.
	// The failure is delivered here instead of the error slot.
	OnAutoReconnectFailed func(identity string, err error)

	mu         sync.Mutex
	page       Page
	session    *Session
	currentErr error
	servers    []discovery.Server
	locations  []string
	profiles   []engine.Profile
	taskCount  int
}

// New creates a wizard over the given engine and settings.
func New(eng engine.Engine, settings *store.Settings) *Wizard {
	return &Wizard{
		eng:         eng,
		disp:        NewDispatcher(),
		settings:    settings,
		openBrowser: oauth.OpenBrowser,
	}
}

// Run drains the engine's event stream until the context ends or the
// stream closes. Each event is applied on the dispatcher goroutine.
func (w *Wizard) Run(ctx context.Context) error {
	defer w.disp.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.eng.Events():
			if !ok {
				return nil
			}
			w.disp.Invoke(func() { w.applyEvent(ctx, ev) })
		}
	}
}

// applyEvent maps one engine lifecycle state onto presentation state.
// Runs on the dispatcher goroutine.
func (w *Wizard) applyEvent(ctx context.Context, ev engine.Event) {
	slog.Debug("engine state", "state", ev.State.String())

	switch ev.State {
	case engine.StateDeregistered, engine.StateAddingServer, engine.StateGettingConfig:
		w.setPage(PageBusy)

	case engine.StateMain:
		w.enterMain(ctx)

	case engine.StateAskLocation:
		w.mu.Lock()
		w.locations = ev.Locations
		w.mu.Unlock()
		w.setPage(PageSelectLocation)

	case engine.StateOAuthStarted:
		if err := w.openBrowser(ev.AuthURL); err != nil {
			slog.Error("failed to open authorization URL", "error", err)
			w.setErrorNow(err)
		}
		w.setPage(PageAuthorization)

	case engine.StateAskProfile:
		w.mu.Lock()
		w.profiles = ev.Profiles
		w.mu.Unlock()
		w.setPage(PageSelectProfile)

	case engine.StateGotConfig, engine.StateConnecting, engine.StateConnected, engine.StateDisconnecting:
		w.setPage(PageConnection)

	case engine.StateDisconnected:
		w.setPage(PageConnection)
		w.deactivateSession(ev.Reason)
	}
}

// enterMain refreshes the server list and, when no session is active and
// an auto-reconnect server is remembered, begins connecting to it. The
// engine calls run on a background goroutine.
func (w *Wizard) enterMain(ctx context.Context) {
	w.setPage(PageHome)

	go func() {
		cookie, err := w.slot.Begin(ctx)
		if err != nil {
			// An operation is already running; leave it alone.
			return
		}
		servers, lerr := w.eng.ServerList(cookie.Context())
		cookie.Release()
		if lerr != nil {
			if !errors.Is(lerr, context.Canceled) {
				slog.Warn("failed to fetch server list", "error", lerr)
			}
			return
		}

		w.disp.Invoke(func() {
			w.mu.Lock()
			w.servers = servers
			w.mu.Unlock()
		})

		if w.Session() != nil {
			return
		}
		last, err := w.settings.LastSelectedServer()
		if err != nil || last == "" {
			return
		}
		srv, found := findServer(servers, last)
		if !found {
			return
		}
		slog.Info("auto-reconnecting", "identity", last)
		_ = w.Connect(ctx, srv, false, true)
	}()
}

// Connect obtains a configuration for the server and activates a session.
// It claims the operation slot for the duration; a second connect while
// one runs fails with engine.ErrOperationInFlight.
//
// On an auto-start attempt failures are swallowed into the
// auto-reconnect-failed notification and the remembered server is cleared;
// on a user-initiated attempt the error lands in the error slot and
// propagates. Cancellation always propagates and is never surfaced as an
// error. Must not be called from the dispatcher goroutine.
func (w *Wizard) Connect(ctx context.Context, srv discovery.Server, preferTCP, isAutoStart bool) error {
	cookie, err := w.slot.Begin(ctx)
	if err != nil {
		return err
	}
	defer cookie.Release()

	err = w.establish(cookie.Context(), srv, preferTCP)
	if err == nil {
		w.rememberServer(srv.Identity)
		return nil
	}
	if errors.Is(err, context.Canceled) {
		slog.Debug("connect cancelled", "identity", srv.Identity)
		return err
	}

	if isAutoStart {
		slog.Warn("auto-reconnect failed", "identity", srv.Identity, "error", err)
		if cerr := w.settings.ClearLastSelectedServer(); cerr != nil {
			slog.Warn("failed to clear auto-reconnect server", "error", cerr)
		}
		if w.OnAutoReconnectFailed != nil {
			w.OnAutoReconnectFailed(srv.Identity, err)
		}
		return nil
	}

	w.setErrorNow(err)
	return err
}

// AddAndConnect registers the server with the engine, then connects.
// Used for first-time add flows; failures are never swallowed.
func (w *Wizard) AddAndConnect(ctx context.Context, srv discovery.Server) error {
	cookie, err := w.slot.Begin(ctx)
	if err != nil {
		return err
	}
	defer cookie.Release()

	if err := w.eng.AddServer(cookie.Context(), srv.Identity); err != nil {
		return w.finishConnect(srv, err)
	}
	return w.finishConnect(srv, w.establish(cookie.Context(), srv, false))
}

// RenewAndConnect renews the server's session, then connects. A renew is
// an explicit user action, so the auto-reconnect memory is cleared first
// and never treated as auto-started.
func (w *Wizard) RenewAndConnect(ctx context.Context, srv discovery.Server) error {
	if err := w.settings.ClearLastSelectedServer(); err != nil {
		slog.Warn("failed to clear auto-reconnect server", "error", err)
	}

	cookie, err := w.slot.Begin(ctx)
	if err != nil {
		return err
	}
	defer cookie.Release()

	if err := w.eng.RenewSession(cookie.Context(), srv.Identity); err != nil {
		return w.finishConnect(srv, err)
	}
	return w.finishConnect(srv, w.establish(cookie.Context(), srv, false))
}

// Disconnect cancels any in-flight operation and asks the engine to tear
// the tunnel down. Session deactivation happens when the Disconnected
// event arrives.
func (w *Wizard) Disconnect(ctx context.Context) error {
	w.slot.CancelCurrent()
	return w.eng.Disconnect(ctx)
}

// Forget removes the server from the engine and, when it was the
// auto-reconnect target, clears that memory. Local credentials and
// certificates are the caller's concern.
func (w *Wizard) Forget(ctx context.Context, identity string) error {
	cookie, err := w.slot.Begin(ctx)
	if err != nil {
		return err
	}
	defer cookie.Release()

	if err := w.eng.RemoveServer(cookie.Context(), identity); err != nil {
		return err
	}

	if last, err := w.settings.LastSelectedServer(); err == nil && last == identity {
		if err := w.settings.ClearLastSelectedServer(); err != nil {
			slog.Warn("failed to clear auto-reconnect server", "error", err)
		}
	}

	w.mu.Lock()
	kept := w.servers[:0]
	for _, s := range w.servers {
		if s.Identity != identity {
			kept = append(kept, s)
		}
	}
	w.servers = kept
	w.mu.Unlock()

	slog.Info("server forgotten", "identity", identity)
	return nil
}

// finishConnect applies the shared tail of the user-initiated flows.
func (w *Wizard) finishConnect(srv discovery.Server, err error) error {
	if err == nil {
		w.rememberServer(srv.Identity)
		return nil
	}
	if errors.Is(err, context.Canceled) {
		slog.Debug("connect cancelled", "identity", srv.Identity)
		return err
	}
	w.setErrorNow(err)
	return err
}

// establish runs the engine calls of one connect and activates the
// session: GetConfig, then CurrentServer and ExpiryTimes.
func (w *Wizard) establish(ctx context.Context, srv discovery.Server, preferTCP bool) error {
	cfg, err := w.eng.GetConfig(ctx, srv.Identity, preferTCP)
	if err != nil {
		return err
	}
	cur, err := w.eng.CurrentServer(ctx)
	if err != nil {
		return err
	}
	exp, err := w.eng.ExpiryTimes(ctx)
	if err != nil {
		return err
	}

	target := srv
	if cur != nil {
		target = *cur
	}

	w.disp.InvokeSync(func() {
		w.mu.Lock()
		w.session = &Session{
			Server:    target,
			Config:    *cfg,
			Expiry:    *exp,
			StartedAt: time.Now(),
		}
		w.mu.Unlock()
		w.setPage(PageConnection)
	})

	slog.Info("session activated", "identity", target.Identity)
	return nil
}

// rememberServer records the auto-reconnect target after a successful
// connect.
func (w *Wizard) rememberServer(identity string) {
	if err := w.settings.SetLastSelectedServer(identity); err != nil {
		slog.Warn("failed to remember server", "identity", identity, "error", err)
	}
}

// deactivateSession destroys the session. A disconnect caused by expiry
// also forgets the auto-reconnect server so the client does not reconnect
// into an expired session; that holds whether or not a session object was
// active, since the engine can report expiry for a session this process
// never activated. Runs on the dispatcher goroutine.
func (w *Wizard) deactivateSession(reason engine.DisconnectReason) {
	w.mu.Lock()
	active := w.session != nil
	w.session = nil
	w.mu.Unlock()

	if reason == engine.DisconnectExpired {
		if err := w.settings.ClearLastSelectedServer(); err != nil {
			slog.Warn("failed to clear auto-reconnect server", "error", err)
		}
	}

	if active {
		slog.Info("session deactivated", "reason", reason.String())
	}
}

// ChooseProfile answers a pending profile question. Exactly the chosen
// profile ID is forwarded to the engine.
func (w *Wizard) ChooseProfile(ctx context.Context, profileID string) error {
	return w.eng.SetProfileID(ctx, profileID)
}

// ChooseLocation answers a pending location question with a country code.
func (w *Wizard) ChooseLocation(ctx context.Context, countryCode string) error {
	return w.eng.SetSecureInternetLocation(ctx, countryCode)
}

// CancelCurrent cancels the in-flight operation, if any. Page navigation
// away from an in-progress flow calls this; the resulting cancellation is
// not an error and is never surfaced to the user.
func (w *Wizard) CancelCurrent() {
	w.slot.CancelCurrent()
}

// setPage updates the presented page. Runs on the dispatcher goroutine.
func (w *Wizard) setPage(p Page) {
	w.mu.Lock()
	changed := w.page != p
	w.page = p
	w.mu.Unlock()

	if changed && w.OnPageChanged != nil {
		w.OnPageChanged(p)
	}
}

// setErrorNow places err in the current-error slot from any goroutine.
// Cancellation never lands here.
func (w *Wizard) setErrorNow(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	w.mu.Lock()
	w.currentErr = err
	w.mu.Unlock()
}

// Page returns the currently presented page.
func (w *Wizard) Page() Page {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.page
}

// Session returns the active session, or nil.
func (w *Wizard) Session() *Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session
}

// Servers returns the last fetched server list.
func (w *Wizard) Servers() []discovery.Server {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.servers
}

// Locations returns the location choices of a pending AskLocation state.
func (w *Wizard) Locations() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.locations
}

// Profiles returns the profile choices of a pending AskProfile state.
func (w *Wizard) Profiles() []engine.Profile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.profiles
}

// CurrentError returns the error in the user-visible error slot, or nil.
func (w *Wizard) CurrentError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentErr
}

// ClearError empties the user-visible error slot.
func (w *Wizard) ClearError() {
	w.mu.Lock()
	w.currentErr = nil
	w.mu.Unlock()
}

// findServer locates a server by identity.
func findServer(servers []discovery.Server, identity string) (discovery.Server, bool) {
	for _, s := range servers {
		if s.Identity == identity {
			return s, true
		}
	}
	return discovery.Server{}, false
}
