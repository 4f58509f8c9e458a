// Package app assembles the client's components and runs them until
// shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Amebis/eduvpn-client/internal/api"
	"github.com/Amebis/eduvpn-client/internal/cert"
	"github.com/Amebis/eduvpn-client/internal/config"
	"github.com/Amebis/eduvpn-client/internal/cred"
	"github.com/Amebis/eduvpn-client/internal/discovery"
	"github.com/Amebis/eduvpn-client/internal/engine"
	"github.com/Amebis/eduvpn-client/internal/ipc"
	"github.com/Amebis/eduvpn-client/internal/logsanitize"
	"github.com/Amebis/eduvpn-client/internal/oauth"
	"github.com/Amebis/eduvpn-client/internal/selfupdate"
	"github.com/Amebis/eduvpn-client/internal/store"
	"github.com/Amebis/eduvpn-client/internal/wizard"
)

// App owns the component graph of one running client instance.
type App struct {
	cfg      *config.Config
	kv       store.KeyValue
	settings *store.Settings
	creds    *cred.Store
	auth     *oauth.Authorizer
	certs    *cert.Manager
	updater  *selfupdate.Checker

	eng *engine.Client
	wiz *wizard.Wizard
	ctl *ipc.Server
}

// New creates the application with all engine-independent components
// initialized. version is the running release, used by the update check.
func New(cfg *config.Config, version string) (*App, error) {
	kv, err := store.Open(cfg.Paths.StateFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	settings := store.NewSettings(kv)
	creds := cred.NewStore(kv)
	auth := oauth.NewAuthorizer(creds, cfg.Client.ID)
	auth.SetListenAddress(cfg.OAuth.ListenAddress)
	apiClient := api.NewClient()
	certs := cert.NewManager(auth, apiClient, settings, cfg.Paths.CertificateDir, cfg.Client.DisplayName)

	slog.Info("state store opened", "path", cfg.Paths.StateFile)

	var updater *selfupdate.Checker
	if cfg.Update.Enabled {
		updater = selfupdate.NewChecker(cfg.Update.DiscoveryURL, version, settings)
	}

	return &App{
		cfg:      cfg,
		kv:       kv,
		settings: settings,
		creds:    creds,
		auth:     auth,
		certs:    certs,
		updater:  updater,
	}, nil
}

// Run connects to the provisioning engine, starts the control socket and
// the wizard, and blocks until a shutdown signal arrives or the engine
// stream ends.
func (a *App) Run(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	eng, err := engine.Dial(dialCtx, a.cfg.Engine.Socket)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to provisioning engine: %w", err)
	}
	a.eng = eng

	slog.Info("provisioning engine connected", "socket", a.cfg.Engine.Socket)

	a.wiz = wizard.New(eng, a.settings)
	a.wiz.OnPageChanged = func(p wizard.Page) {
		slog.Debug("page changed", "page", p.String())
	}
	a.wiz.OnAutoReconnectFailed = func(identity string, err error) {
		slog.Warn("auto-reconnect abandoned",
			"identity", logsanitize.Sanitize(identity),
			"error", err,
		)
	}

	a.ctl = ipc.NewServer(a.cfg.IPC.Socket, a.handleCommand)
	if err := a.ctl.Start(ctx); err != nil {
		_ = eng.Close()
		return fmt.Errorf("failed to start control socket: %w", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	wizErrCh := make(chan error, 1)
	go func() {
		wizErrCh <- a.wiz.Run(runCtx)
	}()

	if a.updater != nil {
		a.wiz.RunTask(runCtx, "update check", a.checkForUpdate)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-wizErrCh:
		if err != nil && ctx.Err() == nil {
			slog.Error("event stream failed", "error", err)
		}
	case <-ctx.Done():
	}

	stop()

	if err := a.ctl.Stop(); err != nil {
		slog.Error("error stopping control socket", "error", err)
	}
	if err := a.eng.Close(); err != nil {
		slog.Error("error closing engine connection", "error", err)
	}
	if err := a.kv.Close(); err != nil {
		slog.Error("error closing state store", "error", err)
	}

	slog.Info("client shutdown complete")
	return nil
}

// checkForUpdate runs one self-update availability check.
func (a *App) checkForUpdate(ctx context.Context) error {
	rel, err := a.updater.Check(ctx)
	if err != nil {
		return err
	}
	if rel != nil {
		slog.Info("update available", "version", rel.Version, "uri", rel.URI)
	}
	return nil
}

// handleCommand serves one forwarded command from a second invocation.
func (a *App) handleCommand(ctx context.Context, cmd *ipc.Command) (*ipc.Result, error) {
	switch cmd.Name {
	case ipc.CommandStatus:
		res := &ipc.Result{
			Status: ipc.StatusOK,
			Page:   a.wiz.Page().String(),
		}
		if sess := a.wiz.Session(); sess != nil {
			res.Server = sess.Server.Identity
		}
		return res, nil

	case ipc.CommandConnect:
		if cmd.Server == "" {
			return nil, fmt.Errorf("connect requires a server")
		}
		identity := cmd.Server
		a.wiz.RunTask(ctx, "forwarded connect", func(ctx context.Context) error {
			return a.Connect(ctx, identity)
		})
		return &ipc.Result{Status: ipc.StatusOK}, nil

	case ipc.CommandRenew:
		if cmd.Server == "" {
			return nil, fmt.Errorf("renew requires a server")
		}
		identity := cmd.Server
		a.wiz.RunTask(ctx, "forwarded renew", func(ctx context.Context) error {
			return a.Renew(ctx, identity)
		})
		return &ipc.Result{Status: ipc.StatusOK}, nil

	case ipc.CommandForget:
		if cmd.Server == "" {
			return nil, fmt.Errorf("forget requires a server")
		}
		if err := a.Forget(ctx, cmd.Server); err != nil {
			return nil, err
		}
		return &ipc.Result{Status: ipc.StatusOK}, nil

	case ipc.CommandDisconnect:
		if err := a.wiz.Disconnect(ctx); err != nil {
			return nil, err
		}
		return &ipc.Result{Status: ipc.StatusOK}, nil

	default:
		return nil, fmt.Errorf("unknown command: %s", logsanitize.Sanitize(cmd.Name))
	}
}

// Connect connects to the server named by identity. A server the engine
// already knows is connected directly; an unknown identity is treated as a
// server base URL and added first. Servers the client authorizes itself
// get their API certificate ensured before the tunnel comes up.
func (a *App) Connect(ctx context.Context, identity string) error {
	srv, known := findServer(a.wiz.Servers(), identity)
	if !known {
		srv = discovery.Server{
			Identity:    identity,
			DisplayName: identity,
			Type:        discovery.TypeOwn,
		}
		if err := a.ensureCertificate(ctx, srv); err != nil {
			return err
		}
		return a.wiz.AddAndConnect(ctx, srv)
	}

	if err := a.ensureCertificate(ctx, srv); err != nil {
		return err
	}
	return a.wiz.Connect(ctx, srv, false, false)
}

// Renew runs an explicit session renewal for the server.
func (a *App) Renew(ctx context.Context, identity string) error {
	srv, known := findServer(a.wiz.Servers(), identity)
	if !known {
		return fmt.Errorf("unknown server: %s", logsanitize.Sanitize(identity))
	}

	if srv.Type == discovery.TypeOwn {
		if _, err := a.certs.Refresh(ctx, authServerFor(srv)); err != nil {
			return err
		}
	}
	return a.wiz.RenewAndConnect(ctx, srv)
}

// Forget removes the server from the engine and wipes every local trace
// of it: stored authorization, cached certificate, per-server memory.
func (a *App) Forget(ctx context.Context, identity string) error {
	if err := a.wiz.Forget(ctx, identity); err != nil {
		return err
	}

	if err := a.creds.Delete(identity); err != nil {
		slog.Warn("failed to delete stored authorization", "identity", logsanitize.Sanitize(identity), "error", err)
	}
	if err := a.certs.Drop(identity); err != nil {
		slog.Warn("failed to drop cached certificate", "identity", logsanitize.Sanitize(identity), "error", err)
	}
	if err := a.settings.DeleteServerMemory(identity); err != nil {
		slog.Warn("failed to delete server memory", "identity", logsanitize.Sanitize(identity), "error", err)
	}
	return nil
}

// Disconnect tears down the current tunnel.
func (a *App) Disconnect(ctx context.Context) error {
	return a.wiz.Disconnect(ctx)
}

// Wizard exposes the wizard for command front-ends.
func (a *App) Wizard() *wizard.Wizard {
	return a.wiz
}

// ensureCertificate maintains the client API certificate for servers the
// client authorizes itself. Discovery-managed servers are left to the
// engine's own authorization flow.
func (a *App) ensureCertificate(ctx context.Context, srv discovery.Server) error {
	if srv.Type != discovery.TypeOwn {
		return nil
	}
	if _, err := a.certs.Get(ctx, authServerFor(srv)); err != nil {
		return fmt.Errorf("failed to ensure client certificate: %w", err)
	}
	return nil
}

// authServerFor derives the authorization surface from a server identity.
// eduVPN servers expose their OAuth endpoints under the base URL.
func authServerFor(srv discovery.Server) oauth.AuthServer {
	base := strings.TrimRight(srv.Identity, "/")
	return oauth.AuthServer{
		Identity:                  srv.Identity,
		AuthorizationEndpoint:     base + "/oauth/authorize",
		TokenEndpoint:             base + "/oauth/token",
		AuthenticationURLTemplate: srv.AuthTemplate(),
		OrgID:                     srv.OrgID(),
	}
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
