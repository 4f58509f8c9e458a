package cert

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Amebis/eduvpn-client/internal/api"
	"github.com/Amebis/eduvpn-client/internal/cred"
	"github.com/Amebis/eduvpn-client/internal/oauth"
	"github.com/Amebis/eduvpn-client/internal/store"
)

// portal is a scriptable server portal plus token endpoint.
type portal struct {
	srv *httptest.Server
	t   *testing.T

	// acceptTokens is the set of bearer tokens the API accepts.
	acceptTokens map[string]bool

	// checkReason scripts the check verdict for valid tokens; "" means valid.
	checkReason string

	checkCalls   int
	createCalls  int
	refreshCalls int
}

func newPortal(t *testing.T) *portal {
	t.Helper()
	p := &portal{t: t, acceptTokens: map[string]bool{"saved-token": true}}
	p.srv = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *portal) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/token":
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "refresh_token" {
			http.Error(w, "unsupported grant", http.StatusBadRequest)
			return
		}
		p.refreshCalls++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"refreshed-token","token_type":"Bearer","refresh_token":"r2","expires_in":3600}`)

	case "/check_certificate":
		if !p.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		p.checkCalls++
		valid := p.checkReason == ""
		fmt.Fprintf(w, `{"check_certificate":{"data":{"is_valid":%t,"reason":%q},"ok":true}}`, valid, p.checkReason)

	case "/create_certificate":
		if !p.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		p.createCalls++
		kp := makeKeyPair(p.t, fmt.Sprintf("issued-cn-%d", p.createCalls))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"create_certificate":{"data":{"certificate":%q,"private_key":%q},"ok":true}}`,
			kp.Certificate, kp.PrivateKey)

	default:
		http.NotFound(w, r)
	}
}

func (p *portal) authorized(r *http.Request) bool {
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return p.acceptTokens[tok]
}

func (p *portal) authServer() oauth.AuthServer {
	return oauth.AuthServer{
		Identity:              p.srv.URL,
		AuthorizationEndpoint: p.srv.URL + "/authorize",
		TokenEndpoint:         p.srv.URL + "/token",
	}
}

// newTestManager wires a manager against the portal with a saved token.
func newTestManager(t *testing.T, p *portal) (*Manager, *cred.Store) {
	t.Helper()

	kv := store.NewMemory()
	creds := cred.NewStore(kv)
	if err := creds.Set(p.authServer().Identity, &cred.Token{
		Value:        "saved-token",
		RefreshToken: "saved-refresh",
		Expiry:       time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	auth := oauth.NewAuthorizer(creds, "org.example.client")
	apiClient := api.NewClient()
	settings := store.NewSettings(kv)

	m := NewManager(auth, apiClient, settings, t.TempDir(), "Test Device")
	return m, creds
}

func TestManagerIssuesWhenNoCache(t *testing.T) {
	p := newPortal(t)
	m, _ := newTestManager(t, p)

	c, err := m.Get(context.Background(), p.authServer())
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if c.CommonName != "issued-cn-1" {
		t.Errorf("got CN %q", c.CommonName)
	}
	if p.checkCalls != 0 {
		t.Errorf("no cached certificate, expected no check calls, got %d", p.checkCalls)
	}
	if p.createCalls != 1 {
		t.Errorf("expected 1 create call, got %d", p.createCalls)
	}
}

func TestManagerReusesValidCached(t *testing.T) {
	p := newPortal(t)
	m, _ := newTestManager(t, p)
	srv := p.authServer()

	first, err := m.Get(context.Background(), srv)
	if err != nil {
		t.Fatalf("first get failed: %v", err)
	}

	second, err := m.Get(context.Background(), srv)
	if err != nil {
		t.Fatalf("second get failed: %v", err)
	}
	if second.CommonName != first.CommonName {
		t.Errorf("expected cached certificate reused, got %q and %q", first.CommonName, second.CommonName)
	}
	if p.createCalls != 1 {
		t.Errorf("valid cached certificate must not be reissued, got %d creates", p.createCalls)
	}
	if p.checkCalls != 1 {
		t.Errorf("expected 1 check call, got %d", p.checkCalls)
	}
}

func TestManagerReissuesExpired(t *testing.T) {
	p := newPortal(t)
	m, _ := newTestManager(t, p)
	srv := p.authServer()

	if _, err := m.Get(context.Background(), srv); err != nil {
		t.Fatalf("first get failed: %v", err)
	}

	p.checkReason = "certificate_expired"
	c, err := m.Get(context.Background(), srv)
	if err != nil {
		t.Fatalf("second get failed: %v", err)
	}
	if c.CommonName != "issued-cn-2" {
		t.Errorf("expected reissued certificate, got %q", c.CommonName)
	}
	if p.createCalls != 2 {
		t.Errorf("expected exactly one reissue, got %d creates", p.createCalls)
	}
}

func TestManagerUserDisabledIsTerminal(t *testing.T) {
	p := newPortal(t)
	m, _ := newTestManager(t, p)
	srv := p.authServer()

	if _, err := m.Get(context.Background(), srv); err != nil {
		t.Fatalf("first get failed: %v", err)
	}

	p.checkReason = "user_disabled"
	_, err := m.Get(context.Background(), srv)

	var checkErr *CheckError
	if !errors.As(err, &checkErr) {
		t.Fatalf("expected *CheckError, got %v", err)
	}
	if checkErr.Result != api.CheckUserDisabled {
		t.Errorf("got result %s", checkErr.Result)
	}
	// Administrative disable must never be worked around by reissuing.
	if p.createCalls != 1 {
		t.Errorf("expected no reissue, got %d creates", p.createCalls)
	}
}

func TestManagerEscalatesRejectedToken(t *testing.T) {
	p := newPortal(t)
	m, creds := newTestManager(t, p)
	srv := p.authServer()

	// The portal stops accepting the saved token; only the refreshed one
	// works. The manager must escalate rather than fail.
	p.acceptTokens = map[string]bool{"refreshed-token": true}

	c, err := m.Get(context.Background(), srv)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if c == nil {
		t.Fatal("expected certificate")
	}
	if p.refreshCalls != 1 {
		t.Errorf("expected 1 refresh during escalation, got %d", p.refreshCalls)
	}

	stored, ok := creds.Token(srv.Identity)
	if !ok || stored.Value != "refreshed-token" {
		t.Error("escalation must store the refreshed token")
	}
}

func TestManagerRefreshDiscardsCache(t *testing.T) {
	p := newPortal(t)
	m, _ := newTestManager(t, p)
	srv := p.authServer()

	if _, err := m.Get(context.Background(), srv); err != nil {
		t.Fatalf("get failed: %v", err)
	}

	c, err := m.Refresh(context.Background(), srv)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if c.CommonName != "issued-cn-2" {
		t.Errorf("expected fresh certificate, got %q", c.CommonName)
	}
	// Refresh never consults the server about the discarded certificate.
	if p.checkCalls != 1 {
		t.Errorf("expected 1 check call, got %d", p.checkCalls)
	}
}

func TestManagerRecordsHash(t *testing.T) {
	p := newPortal(t)
	m, _ := newTestManager(t, p)
	srv := p.authServer()

	c, err := m.Get(context.Background(), srv)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	mem, err := m.settings.ServerMemory(srv.Identity)
	if err != nil {
		t.Fatalf("memory read failed: %v", err)
	}
	if mem.CertificateHash != c.Hash {
		t.Errorf("got hash %q, want %q", mem.CertificateHash, c.Hash)
	}
}
