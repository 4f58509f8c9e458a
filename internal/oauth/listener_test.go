package oauth

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func newTestListener(t *testing.T, state string) *listener {
	t.Helper()
	l, err := newListener("127.0.0.1:0", state)
	if err != nil {
		t.Fatalf("failed to open listener: %v", err)
	}
	t.Cleanup(l.close)
	return l
}

func get(t *testing.T, rawURL string) *http.Response {
	t.Helper()
	resp, err := http.Get(rawURL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestListenerDeliversCode(t *testing.T) {
	l := newTestListener(t, "state123")

	resp := get(t, l.redirectURI()+"?code=authcode&state=state123")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	select {
	case res := <-l.wait():
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
		if res.code != "authcode" {
			t.Errorf("got code %q, want %q", res.code, "authcode")
		}
	case <-time.After(time.Second):
		t.Fatal("no result delivered")
	}
}

func TestListenerRejectsStateMismatch(t *testing.T) {
	l := newTestListener(t, "state123")

	resp := get(t, l.redirectURI()+"?code=forged&state=wrong")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}

	// The mismatch must not consume the result slot: a valid callback
	// afterwards still wins.
	get(t, l.redirectURI()+"?code=real&state=state123")

	select {
	case res := <-l.wait():
		if res.code != "real" {
			t.Errorf("got code %q, want %q", res.code, "real")
		}
	case <-time.After(time.Second):
		t.Fatal("no result delivered")
	}
}

func TestListenerDeliversServerError(t *testing.T) {
	l := newTestListener(t, "state123")

	get(t, l.redirectURI()+"?error=access_denied&error_description=user+cancelled")

	select {
	case res := <-l.wait():
		if res.err == nil {
			t.Fatal("expected error result")
		}
		if !strings.Contains(res.err.Error(), "user cancelled") {
			t.Errorf("unexpected error: %v", res.err)
		}
	case <-time.After(time.Second):
		t.Fatal("no result delivered")
	}
}

func TestListenerFirstResultWins(t *testing.T) {
	l := newTestListener(t, "state123")

	get(t, l.redirectURI()+"?code=first&state=state123")
	resp := get(t, l.redirectURI()+"?code=second&state=state123")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected second callback rejected, got %d", resp.StatusCode)
	}

	res := <-l.wait()
	if res.code != "first" {
		t.Errorf("got code %q, want %q", res.code, "first")
	}
}

func TestListenerCloseIdempotent(t *testing.T) {
	l := newTestListener(t, "state123")
	l.close()
	l.close()
}
