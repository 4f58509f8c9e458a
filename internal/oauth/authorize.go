package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/Amebis/eduvpn-client/internal/cred"
	"github.com/Amebis/eduvpn-client/internal/discovery"
	"github.com/Amebis/eduvpn-client/internal/retry"
)

// errGrantRevoked signals that the token endpoint rejected the refresh
// grant itself; the saved token is useless and interactive authorization
// is the only way forward.
var errGrantRevoked = errors.New("refresh grant revoked")

// Authorizer executes the token authorization protocol against server
// OAuth endpoints. One Authorizer serves all identities; per-identity
// serialization comes from the credential store's locks.
type Authorizer struct {
	creds    *cred.Store
	client   *http.Client
	clientID string

	listenAddr  string
	grace       time.Duration
	attempts    int
	delay       time.Duration
	openBrowser func(url string) error
}

// NewAuthorizer creates an authorizer using the given credential store and
// OAuth client ID.
func NewAuthorizer(creds *cred.Store, clientID string) *Authorizer {
	return &Authorizer{
		creds:       creds,
		client:      &http.Client{Timeout: 10 * time.Second},
		clientID:    clientID,
		listenAddr:  "127.0.0.1:0",
		grace:       500 * time.Millisecond,
		attempts:    retry.DefaultAttempts,
		delay:       retry.DefaultDelay,
		openBrowser: OpenBrowser,
	}
}

// MarkInvalid flags the server's stored token as rejected so the next
// authorization drops it instead of presenting it again.
func (a *Authorizer) MarkInvalid(identity string) error {
	return a.creds.MarkInvalid(identity)
}

// SetListenAddress overrides the loopback address the redirect listener
// binds. The default requests an ephemeral port on 127.0.0.1.
func (a *Authorizer) SetListenAddress(addr string) {
	a.listenAddr = addr
}

// Authorize obtains a usable access token for the server per the request's
// source policy: saved token first, then refresh, then interactive browser
// authorization. It runs under the server's per-identity lock, so at most
// one authorization flow exists per server.
//
// On success req.Origin and req.Token report where the token came from.
// Cancellation propagates as the context error; other failures are
// ErrNoAuthorization, a *retry.NetworkError, or a token endpoint error.
func (a *Authorizer) Authorize(ctx context.Context, srv AuthServer, req *Request) (*cred.Token, error) {
	unlock := a.creds.Lock(srv.Identity)
	defer unlock()

	req.Origin = OriginNone
	req.Token = nil

	if req.Policy != SourceForceAuthorization {
		tok, err := a.fromSaved(ctx, srv, req)
		if err != nil {
			return nil, err
		}
		if tok != nil {
			return tok, nil
		}
	}

	if req.Policy == SourceSavedOnly {
		return nil, ErrNoAuthorization
	}

	tok, err := a.interactive(ctx, srv, req)
	if err != nil {
		return nil, err
	}
	if err := a.creds.Set(srv.Identity, tok); err != nil {
		return nil, err
	}

	slog.Info("authorization completed", "identity", srv.Identity)
	req.Origin = OriginAuthorized
	req.Token = tok
	return tok, nil
}

// fromSaved tries to satisfy the request from the cache, refreshing when
// needed. A nil, nil result means the cache cannot help and the caller
// should continue to interactive authorization.
func (a *Authorizer) fromSaved(ctx context.Context, srv AuthServer, req *Request) (*cred.Token, error) {
	tok, ok := a.creds.Token(srv.Identity)
	if !ok {
		return nil, nil
	}

	if tok.Invalid {
		// A token the server declared unusable: drop the marker and
		// move on to interactive authorization.
		slog.Info("dropping invalid token", "identity", srv.Identity)
		if err := a.creds.Delete(srv.Identity); err != nil {
			slog.Warn("failed to drop invalid token", "identity", srv.Identity, "error", err)
		}
		return nil, nil
	}

	if !req.ForceRefresh && !tok.Expired() {
		slog.Debug("using saved token", "identity", srv.Identity)
		req.Origin = OriginSaved
		req.Token = tok
		return tok, nil
	}

	if !tok.CanRefresh() {
		return nil, nil
	}

	refreshed, err := a.refresh(ctx, srv, tok)
	switch {
	case err == nil:
		if err := a.creds.Set(srv.Identity, refreshed); err != nil {
			return nil, err
		}
		slog.Info("token refreshed", "identity", srv.Identity)
		req.Origin = OriginRefreshed
		req.Token = refreshed
		return refreshed, nil
	case errors.Is(err, errGrantRevoked):
		slog.Info("refresh grant revoked, dropping token", "identity", srv.Identity)
		if derr := a.creds.Delete(srv.Identity); derr != nil {
			slog.Warn("failed to drop revoked token", "identity", srv.Identity, "error", derr)
		}
		return nil, nil
	default:
		// Exhausted retries or cancelled; the cache is left as it was.
		return nil, err
	}
}

// refresh exchanges the refresh token for a new token, retrying transient
// failures with bounded fixed spacing.
func (a *Authorizer) refresh(ctx context.Context, srv AuthServer, tok *cred.Token) (*cred.Token, error) {
	conf := a.oauthConfig(srv, tok.Scope, "")

	var out *oauth2.Token
	err := retry.Do(ctx, a.attempts, a.delay, "token refresh", func() error {
		src := conf.TokenSource(a.httpContext(ctx), &oauth2.Token{RefreshToken: tok.RefreshToken})
		t, err := src.Token()
		if err != nil {
			return classifyTokenError(err)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	return a.tokenFromOAuth2(out, tok.Scope), nil
}

// interactive performs browser-based authorization: loopback listener,
// authorization URL (optionally enveloped through the server's
// authentication template), browser launch, callback wait, code exchange.
func (a *Authorizer) interactive(ctx context.Context, srv AuthServer, req *Request) (*cred.Token, error) {
	verifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	l, err := newListener(a.listenAddr, state)
	if err != nil {
		return nil, err
	}
	defer l.close()

	conf := a.oauthConfig(srv, req.Scope, l.redirectURI())
	authURL := conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", generateCodeChallenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	authURL = discovery.ExpandAuthTemplate(srv.AuthenticationURLTemplate, authURL, srv.OrgID)

	slog.Info("starting interactive authorization", "identity", srv.Identity)
	if err := a.openBrowser(authURL); err != nil {
		return nil, err
	}

	var code string
	select {
	case <-ctx.Done():
		slog.Debug("interactive authorization cancelled", "identity", srv.Identity)
		return nil, ctx.Err()
	case res := <-l.wait():
		if res.err != nil {
			return nil, res.err
		}
		code = res.code
	}

	// Keep the listener up briefly so the browser finishes loading the
	// result page, then close it before the (possibly slow) exchange.
	select {
	case <-time.After(a.grace):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	l.close()

	var out *oauth2.Token
	err = retry.Do(ctx, a.attempts, a.delay, "code exchange", func() error {
		t, err := conf.Exchange(a.httpContext(ctx), code,
			oauth2.SetAuthURLParam("code_verifier", verifier),
		)
		if err != nil {
			return classifyTokenError(err)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	return a.tokenFromOAuth2(out, req.Scope), nil
}

// oauthConfig builds the per-server OAuth2 configuration.
func (a *Authorizer) oauthConfig(srv AuthServer, scope []string, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    a.clientID,
		RedirectURL: redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.AuthorizationEndpoint,
			TokenURL:  srv.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: scope,
	}
}

// httpContext routes oauth2 HTTP traffic through the authorizer's client.
func (a *Authorizer) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.client)
}

// tokenFromOAuth2 converts an oauth2 token into the stored form.
func (a *Authorizer) tokenFromOAuth2(t *oauth2.Token, scope []string) *cred.Token {
	return &cred.Token{
		Value:        t.AccessToken,
		RefreshToken: t.RefreshToken,
		Scope:        scope,
		Expiry:       t.Expiry,
	}
}

// classifyTokenError separates transient network failures (retried) from
// semantic token endpoint errors (permanent). A semantic invalid_grant is
// mapped to errGrantRevoked so the caller can fall back to interactive
// authorization.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode != "" {
		if re.ErrorCode == "invalid_grant" {
			return retry.Permanent(errGrantRevoked)
		}
		return retry.Permanent(fmt.Errorf("token endpoint error %q: %w", re.ErrorCode, err))
	}
	return err
}
