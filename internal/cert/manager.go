package cert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/Amebis/eduvpn-client/internal/api"
	"github.com/Amebis/eduvpn-client/internal/oauth"
	"github.com/Amebis/eduvpn-client/internal/store"
)

// certScope is the token scope certificate operations run under.
var certScope = []string{"config"}

// Manager executes the certificate lifecycle: obtain an access token,
// validate any cached certificate against the server, reissue when needed.
// Operations for the same server identity are serialized.
type Manager struct {
	auth        *oauth.Authorizer
	api         *api.Client
	settings    *store.Settings
	dir         string
	displayName string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a certificate manager storing per-server certificate
// files under dir. displayName is sent to the server on issuance.
func NewManager(auth *oauth.Authorizer, apiClient *api.Client, settings *store.Settings, dir, displayName string) *Manager {
	return &Manager{
		auth:        auth,
		api:         apiClient,
		settings:    settings,
		dir:         dir,
		displayName: displayName,
		locks:       make(map[string]*sync.Mutex),
	}
}

// lock serializes certificate operations per identity.
func (m *Manager) lock(identity string) func() {
	m.mu.Lock()
	l, ok := m.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		m.locks[identity] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Get returns a usable client certificate for the server: the cached one
// when the server says it is still valid, a freshly issued one otherwise.
// An administratively disabled user or certificate fails with *CheckError.
func (m *Manager) Get(ctx context.Context, srv oauth.AuthServer) (*Certificate, error) {
	unlock := m.lock(srv.Identity)
	defer unlock()

	return m.get(ctx, srv)
}

// Refresh discards any cached certificate and issues a new one.
func (m *Manager) Refresh(ctx context.Context, srv oauth.AuthServer) (*Certificate, error) {
	unlock := m.lock(srv.Identity)
	defer unlock()

	path := certPath(m.dir, srv.Identity)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove cached certificate: %w", err)
	}
	slog.Info("certificate cache cleared", "identity", srv.Identity)

	return m.get(ctx, srv)
}

// Drop removes the cached certificate for the server without issuing a
// replacement. Used when the server itself is forgotten.
func (m *Manager) Drop(identity string) error {
	unlock := m.lock(identity)
	defer unlock()

	path := certPath(m.dir, identity)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cached certificate: %w", err)
	}
	return nil
}

// get runs the lifecycle under the identity lock, escalating the
// authorization policy whenever the server rejects the access token.
func (m *Manager) get(ctx context.Context, srv oauth.AuthServer) (*Certificate, error) {
	req := &oauth.Request{Scope: certScope, Policy: oauth.SourceAny}

	for {
		tok, err := m.auth.Authorize(ctx, srv, req)
		if err != nil {
			return nil, err
		}

		c, err := m.getWithToken(ctx, srv, tok.Value)
		if errors.Is(err, api.ErrUnauthorized) {
			slog.Info("access token rejected, escalating",
				"identity", srv.Identity,
				"origin", req.Origin.String(),
			)
			if eerr := oauth.Escalate(req); eerr != nil {
				// Even a fresh authorization is rejected; remember that
				// so the next run does not present this token again.
				if merr := m.auth.MarkInvalid(srv.Identity); merr != nil {
					slog.Warn("failed to mark token invalid", "identity", srv.Identity, "error", merr)
				}
				return nil, eerr
			}
			continue
		}
		return c, err
	}
}

// getWithToken performs one pass of the lifecycle with a concrete token.
func (m *Manager) getWithToken(ctx context.Context, srv oauth.AuthServer, token string) (*Certificate, error) {
	path := certPath(m.dir, srv.Identity)

	cached, err := loadCertFile(path)
	if err != nil {
		// Corrupt cache; reissue rather than fail.
		slog.Warn("cached certificate unusable", "identity", srv.Identity, "error", err)
	}

	if cached != nil {
		result, err := m.api.CheckCertificate(ctx, srv.Identity, token, cached.CommonName)
		if err != nil {
			return nil, err
		}

		switch result {
		case api.CheckValid:
			slog.Debug("cached certificate valid", "identity", srv.Identity)
			return cached, nil
		case api.CheckUserDisabled, api.CheckCertificateDisabled:
			return nil, &CheckError{Result: result}
		default:
			// Missing, expired, not yet valid, invalid or unknown:
			// reissue below.
			slog.Info("cached certificate not usable, reissuing",
				"identity", srv.Identity,
				"result", result.String(),
			)
		}
	}

	return m.issue(ctx, srv, token, path)
}

// issue obtains a fresh certificate, persists it atomically and records
// its content hash in the per-server memory.
func (m *Manager) issue(ctx context.Context, srv oauth.AuthServer, token, path string) (*Certificate, error) {
	kp, err := m.api.CreateCertificate(ctx, srv.Identity, token, m.displayName)
	if err != nil {
		return nil, err
	}

	c, err := newCertificate(kp)
	if err != nil {
		return nil, err
	}

	if err := writeCertFile(path, c); err != nil {
		return nil, err
	}

	mem, err := m.settings.ServerMemory(srv.Identity)
	if err == nil {
		mem.CertificateHash = c.Hash
		if err := m.settings.SetServerMemory(srv.Identity, mem); err != nil {
			slog.Warn("failed to record certificate hash", "identity", srv.Identity, "error", err)
		}
	}

	slog.Info("certificate issued", "identity", srv.Identity, "common_name", c.CommonName)
	return c, nil
}
