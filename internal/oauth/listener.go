package oauth

import (
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Amebis/eduvpn-client/internal/logsanitize"
)

const (
	pageSuccess = `<!DOCTYPE html>
<html><head><title>Authorized</title></head>
<body><h1>Authorized</h1>
<p>The application is now authorized. You can close this window.</p>
</body></html>`

	pageError = `<!DOCTYPE html>
<html><head><title>Authorization failed</title></head>
<body><h1>Authorization failed</h1>
<p>%s</p>
</body></html>`
)

// callbackResult is the outcome of one callback hit.
type callbackResult struct {
	code string
	err  error
}

// listener is the loopback HTTP listener owned by a single interactive
// authorization attempt. It accepts exactly one valid callback; the first
// result wins and later hits are rejected.
type listener struct {
	ln      net.Listener
	srv     *http.Server
	state   string
	limiter *rate.Limiter

	resultOnce sync.Once
	result     chan callbackResult

	closeOnce sync.Once
}

// newListener binds the loopback listener. addr is typically
// "127.0.0.1:0"; the bound port ends up in the redirect URI.
func newListener(addr, state string) (*listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to open callback listener: %w", err)
	}

	l := &listener{
		ln: ln,
		// The listener only ever serves the local browser; the limiter
		// shields against a misbehaving local process hammering it.
		limiter: rate.NewLimiter(10, 20),
		state:   state,
		result:  make(chan callbackResult, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", l.handleCallback)
	l.srv = &http.Server{Handler: mux}

	go func() {
		if err := l.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Debug("callback listener stopped", "error", err)
		}
	}()

	return l, nil
}

// redirectURI returns the redirect URI pointing at the bound port.
func (l *listener) redirectURI() string {
	return fmt.Sprintf("http://%s/callback", l.ln.Addr().String())
}

// wait returns the channel delivering the first callback result.
func (l *listener) wait() <-chan callbackResult {
	return l.result
}

// close shuts the listener down. Safe to call more than once; the socket
// is closed exactly once.
func (l *listener) close() {
	l.closeOnce.Do(func() {
		if err := l.srv.Close(); err != nil {
			slog.Debug("failed to close callback listener", "error", err)
		}
	})
}

// deliver publishes the first result; later calls are dropped.
func (l *listener) deliver(res callbackResult) bool {
	delivered := false
	l.resultOnce.Do(func() {
		l.result <- res
		delivered = true
	})
	return delivered
}

// handleCallback handles the authorization redirect from the browser.
func (l *listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !l.limiter.Allow() {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")
	errParam := q.Get("error")
	errDesc := q.Get("error_description")

	slog.Debug("authorization callback received",
		"code_present", code != "",
		"state_present", state != "",
		"error_present", errParam != "",
	)

	if errParam != "" {
		msg := errParam
		if errDesc != "" {
			msg = errDesc
		}
		err := fmt.Errorf("authorization server returned %s", logsanitize.Sanitize(msg))
		l.deliver(callbackResult{err: err})
		renderError(w, msg)
		return
	}

	if code == "" || state == "" {
		renderError(w, "Invalid callback parameters")
		return
	}

	// The state must match this flow; anything else is a stray or forged
	// request and does not consume the result slot.
	if state != l.state {
		slog.Warn("callback state mismatch", "state", logsanitize.Sanitize(state))
		renderError(w, "State mismatch")
		return
	}

	if !l.deliver(callbackResult{code: code}) {
		renderError(w, "Authorization already completed")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, pageSuccess)
}

// renderError writes a minimal error page.
func renderError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, pageError, template.HTMLEscapeString(msg))
}
