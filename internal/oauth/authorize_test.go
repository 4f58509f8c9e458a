package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/Amebis/eduvpn-client/internal/cred"
	"github.com/Amebis/eduvpn-client/internal/retry"
	"github.com/Amebis/eduvpn-client/internal/store"
)

// tokenEndpoint is a scriptable OAuth token endpoint.
type tokenEndpoint struct {
	srv *httptest.Server

	refreshCalls  int
	exchangeCalls int

	// refreshStatus overrides the refresh grant response; 0 means success.
	refreshStatus int
	// refreshError is the JSON error code sent with refreshStatus.
	refreshError string
}

func newTokenEndpoint(t *testing.T) *tokenEndpoint {
	t.Helper()
	te := &tokenEndpoint{}
	te.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}

		switch r.Form.Get("grant_type") {
		case "refresh_token":
			te.refreshCalls++
			if te.refreshStatus != 0 {
				if te.refreshError != "" {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(te.refreshStatus)
					fmt.Fprintf(w, `{"error":%q}`, te.refreshError)
					return
				}
				http.Error(w, "unavailable", te.refreshStatus)
				return
			}
			writeToken(w, "refreshed-token", "refreshed-refresh")

		case "authorization_code":
			te.exchangeCalls++
			if r.Form.Get("code") != "goodcode" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":"invalid_grant"}`)
				return
			}
			writeToken(w, "interactive-token", "interactive-refresh")

		default:
			http.Error(w, "unsupported grant", http.StatusBadRequest)
		}
	}))
	t.Cleanup(te.srv.Close)
	return te
}

func writeToken(w http.ResponseWriter, access, refresh string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer","refresh_token":%q,"expires_in":3600}`, access, refresh)
}

func (te *tokenEndpoint) authServer() AuthServer {
	return AuthServer{
		Identity:              "https://vpn.example.org/",
		AuthorizationEndpoint: te.srv.URL + "/authorize",
		TokenEndpoint:         te.srv.URL + "/token",
	}
}

// browserStub acts as the user's browser: it follows the authorization URL
// far enough to hit the loopback callback with a code.
func browserStub(t *testing.T) func(string) error {
	t.Helper()
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		redirect := q.Get("redirect_uri")
		state := q.Get("state")
		if redirect == "" || state == "" {
			return fmt.Errorf("authorization URL missing redirect_uri or state")
		}
		if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
			return fmt.Errorf("authorization URL missing PKCE parameters")
		}
		resp, err := http.Get(redirect + "?code=goodcode&state=" + url.QueryEscape(state))
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}
}

func newTestAuthorizer(t *testing.T, creds *cred.Store) *Authorizer {
	t.Helper()
	a := NewAuthorizer(creds, "org.example.client")
	a.attempts = 2
	a.delay = time.Millisecond
	a.grace = time.Millisecond
	a.openBrowser = browserStub(t)
	return a
}

func TestAuthorizeSavedOnlyWithoutToken(t *testing.T) {
	te := newTokenEndpoint(t)
	creds := cred.NewStore(store.NewMemory())
	a := newTestAuthorizer(t, creds)
	a.openBrowser = func(string) error {
		t.Error("saved-only policy must never open a browser")
		return nil
	}

	req := &Request{Scope: []string{"config"}, Policy: SourceSavedOnly}
	_, err := a.Authorize(context.Background(), te.authServer(), req)
	if !errors.Is(err, ErrNoAuthorization) {
		t.Fatalf("expected ErrNoAuthorization, got %v", err)
	}
	if _, ok := creds.Token(te.authServer().Identity); ok {
		t.Error("failed saved-only attempt must not store a token")
	}
	if te.refreshCalls+te.exchangeCalls != 0 {
		t.Error("saved-only attempt must not touch the token endpoint")
	}
}

func TestAuthorizeUsesSavedToken(t *testing.T) {
	te := newTokenEndpoint(t)
	srv := te.authServer()
	creds := cred.NewStore(store.NewMemory())
	a := newTestAuthorizer(t, creds)

	saved := &cred.Token{Value: "saved-token", Expiry: time.Now().Add(time.Hour)}
	if err := creds.Set(srv.Identity, saved); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	req := &Request{Scope: []string{"config"}, Policy: SourceAny}
	tok, err := a.Authorize(context.Background(), srv, req)
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if tok.Value != "saved-token" {
		t.Errorf("got %q, want saved token", tok.Value)
	}
	if req.Origin != OriginSaved {
		t.Errorf("got origin %s, want saved", req.Origin)
	}
	if te.refreshCalls+te.exchangeCalls != 0 {
		t.Error("a fresh saved token must not touch the network")
	}
}

func TestAuthorizeRefreshesExpiredToken(t *testing.T) {
	te := newTokenEndpoint(t)
	srv := te.authServer()
	creds := cred.NewStore(store.NewMemory())
	a := newTestAuthorizer(t, creds)

	saved := &cred.Token{
		Value:        "stale-token",
		RefreshToken: "stale-refresh",
		Expiry:       time.Now().Add(-time.Minute),
	}
	if err := creds.Set(srv.Identity, saved); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	req := &Request{Scope: []string{"config"}, Policy: SourceAny}
	tok, err := a.Authorize(context.Background(), srv, req)
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if tok.Value != "refreshed-token" {
		t.Errorf("got %q, want refreshed token", tok.Value)
	}
	if req.Origin != OriginRefreshed {
		t.Errorf("got origin %s, want refreshed", req.Origin)
	}

	stored, ok := creds.Token(srv.Identity)
	if !ok || stored.Value != "refreshed-token" {
		t.Error("refreshed token must replace the stored one")
	}
}

func TestAuthorizeForceRefresh(t *testing.T) {
	te := newTokenEndpoint(t)
	srv := te.authServer()
	creds := cred.NewStore(store.NewMemory())
	a := newTestAuthorizer(t, creds)

	saved := &cred.Token{
		Value:        "fresh-but-rejected",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
	}
	if err := creds.Set(srv.Identity, saved); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	req := &Request{Scope: []string{"config"}, Policy: SourceAny, ForceRefresh: true}
	tok, err := a.Authorize(context.Background(), srv, req)
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if tok.Value != "refreshed-token" || req.Origin != OriginRefreshed {
		t.Errorf("expected forced refresh, got %q origin %s", tok.Value, req.Origin)
	}
	if te.refreshCalls != 1 {
		t.Errorf("expected 1 refresh call, got %d", te.refreshCalls)
	}
}

func TestAuthorizeRefreshNetworkFailureLeavesCache(t *testing.T) {
	te := newTokenEndpoint(t)
	te.refreshStatus = http.StatusInternalServerError
	srv := te.authServer()
	creds := cred.NewStore(store.NewMemory())
	a := newTestAuthorizer(t, creds)

	saved := &cred.Token{
		Value:        "stale-token",
		RefreshToken: "stale-refresh",
		Expiry:       time.Now().Add(-time.Minute),
	}
	if err := creds.Set(srv.Identity, saved); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	req := &Request{Scope: []string{"config"}, Policy: SourceAny}
	_, err := a.Authorize(context.Background(), srv, req)

	var netErr *retry.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *retry.NetworkError, got %v", err)
	}
	if te.refreshCalls != a.attempts {
		t.Errorf("expected %d refresh attempts, got %d", a.attempts, te.refreshCalls)
	}

	stored, ok := creds.Token(srv.Identity)
	if !ok || stored.Value != "stale-token" {
		t.Error("a failed refresh must leave the cached token unmodified")
	}
}

func TestAuthorizeRevokedGrantFallsToInteractive(t *testing.T) {
	te := newTokenEndpoint(t)
	te.refreshStatus = http.StatusBadRequest
	te.refreshError = "invalid_grant"
	srv := te.authServer()
	creds := cred.NewStore(store.NewMemory())
	a := newTestAuthorizer(t, creds)

	saved := &cred.Token{
		Value:        "stale-token",
		RefreshToken: "revoked-refresh",
		Expiry:       time.Now().Add(-time.Minute),
	}
	if err := creds.Set(srv.Identity, saved); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	req := &Request{Scope: []string{"config"}, Policy: SourceAny}
	tok, err := a.Authorize(context.Background(), srv, req)
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if tok.Value != "interactive-token" || req.Origin != OriginAuthorized {
		t.Errorf("expected interactive fallback, got %q origin %s", tok.Value, req.Origin)
	}
	if te.refreshCalls != 1 {
		t.Errorf("a revoked grant must not be retried, got %d calls", te.refreshCalls)
	}
}

func TestAuthorizeDropsInvalidMarker(t *testing.T) {
	te := newTokenEndpoint(t)
	srv := te.authServer()
	creds := cred.NewStore(store.NewMemory())
	a := newTestAuthorizer(t, creds)

	saved := &cred.Token{
		Value:        "marked-token",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
		Invalid:      true,
	}
	if err := creds.Set(srv.Identity, saved); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	req := &Request{Scope: []string{"config"}, Policy: SourceAny}
	tok, err := a.Authorize(context.Background(), srv, req)
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	// The marked token is never refreshed: straight to interactive.
	if te.refreshCalls != 0 {
		t.Errorf("invalid token must not be refreshed, got %d refresh calls", te.refreshCalls)
	}
	if tok.Value != "interactive-token" || req.Origin != OriginAuthorized {
		t.Errorf("expected interactive token, got %q origin %s", tok.Value, req.Origin)
	}

	stored, ok := creds.Token(srv.Identity)
	if !ok || stored.Invalid {
		t.Error("stored token must be replaced and unmarked")
	}
}

func TestAuthorizeForceAuthorizationSkipsCache(t *testing.T) {
	te := newTokenEndpoint(t)
	srv := te.authServer()
	creds := cred.NewStore(store.NewMemory())
	a := newTestAuthorizer(t, creds)

	saved := &cred.Token{Value: "saved-token", Expiry: time.Now().Add(time.Hour)}
	if err := creds.Set(srv.Identity, saved); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	req := &Request{Scope: []string{"config"}, Policy: SourceForceAuthorization}
	tok, err := a.Authorize(context.Background(), srv, req)
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if tok.Value != "interactive-token" || req.Origin != OriginAuthorized {
		t.Errorf("expected interactive token, got %q origin %s", tok.Value, req.Origin)
	}
	if te.exchangeCalls != 1 {
		t.Errorf("expected 1 exchange, got %d", te.exchangeCalls)
	}
}

func TestAuthorizeInteractiveCancelled(t *testing.T) {
	te := newTokenEndpoint(t)
	srv := te.authServer()
	creds := cred.NewStore(store.NewMemory())
	a := newTestAuthorizer(t, creds)
	// A browser that never completes the flow.
	a.openBrowser = func(string) error { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	req := &Request{Scope: []string{"config"}, Policy: SourceAny}
	_, err := a.Authorize(ctx, srv, req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, ok := creds.Token(srv.Identity); ok {
		t.Error("a cancelled flow must not store a token")
	}
}

func TestAuthorizeEnvelopesThroughTemplate(t *testing.T) {
	te := newTokenEndpoint(t)
	srv := te.authServer()
	srv.AuthenticationURLTemplate = "https://portal.example.org/auth?return_to=@RETURN_TO@&org_id=@ORG_ID@"
	srv.OrgID = "https://idp.example.org"
	creds := cred.NewStore(store.NewMemory())
	a := newTestAuthorizer(t, creds)

	var opened string
	a.openBrowser = func(u string) error {
		opened = u
		// Unwrap the enveloped URL the way the portal would redirect.
		parsed, err := url.Parse(u)
		if err != nil {
			return err
		}
		return browserStub(t)(parsed.Query().Get("return_to"))
	}

	req := &Request{Scope: []string{"config"}, Policy: SourceForceAuthorization}
	if _, err := a.Authorize(context.Background(), srv, req); err != nil {
		t.Fatalf("authorize failed: %v", err)
	}

	parsed, err := url.Parse(opened)
	if err != nil {
		t.Fatalf("opened URL unparsable: %v", err)
	}
	if parsed.Host != "portal.example.org" {
		t.Errorf("authorization must go through the portal, got %q", opened)
	}
	if parsed.Query().Get("org_id") != "https://idp.example.org" {
		t.Errorf("org_id not substituted: %q", opened)
	}
}

func TestEscalate(t *testing.T) {
	req := &Request{Origin: OriginSaved}
	if err := Escalate(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !req.ForceRefresh {
		t.Error("401 on saved token must force a refresh")
	}
	if req.Origin != OriginNone || req.Token != nil {
		t.Error("escalation must reset the request outputs")
	}

	req = &Request{Origin: OriginRefreshed}
	if err := Escalate(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Policy != SourceForceAuthorization {
		t.Error("401 on refreshed token must force interactive authorization")
	}

	req = &Request{Origin: OriginAuthorized}
	if err := Escalate(req); !errors.Is(err, ErrInvalidAccessToken) {
		t.Errorf("401 on authorized token must be terminal, got %v", err)
	}
}
