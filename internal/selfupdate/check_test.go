package selfupdate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Amebis/eduvpn-client/internal/store"
)

func discoveryServer(t *testing.T, version string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"version":%q,"uri":"https://dl.example.org/client.exe","hash-sha256":"abcd"}`, version)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestChecker(srv *httptest.Server, current string) (*Checker, *store.Settings) {
	settings := store.NewSettings(store.NewMemory())
	return NewChecker(srv.URL, current, settings), settings
}

func TestCheckNewerRelease(t *testing.T) {
	srv := discoveryServer(t, "3.2.0")
	c, _ := newTestChecker(srv, "3.1.5")

	rel, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if rel == nil || rel.Version != "3.2.0" {
		t.Fatalf("expected release 3.2.0, got %+v", rel)
	}
}

func TestCheckUpToDate(t *testing.T) {
	srv := discoveryServer(t, "3.1.5")
	c, _ := newTestChecker(srv, "3.1.5")

	rel, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if rel != nil {
		t.Errorf("expected no release, got %+v", rel)
	}
}

func TestCheckOlderRelease(t *testing.T) {
	srv := discoveryServer(t, "3.0.0")
	c, _ := newTestChecker(srv, "3.1.5")

	rel, err := c.Check(context.Background())
	if err != nil || rel != nil {
		t.Errorf("expected no release, got %+v, %v", rel, err)
	}
}

func TestCheckSkippedVersion(t *testing.T) {
	srv := discoveryServer(t, "3.2.0")
	c, settings := newTestChecker(srv, "3.1.5")
	if err := settings.SetSkipVersion("3.2.0"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	rel, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if rel != nil {
		t.Errorf("skipped version must not be offered, got %+v", rel)
	}
}

func TestCheckUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := newTestChecker(srv, "3.1.5")
	_, err := c.Check(context.Background())
	if !errors.Is(err, ErrFileUnavailable) {
		t.Fatalf("expected ErrFileUnavailable, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	content := []byte("installer bytes")
	sum := sha256.Sum256(content)

	rel := &Release{Hash: hex.EncodeToString(sum[:])}
	if err := Verify(content, rel); err != nil {
		t.Errorf("expected valid content, got %v", err)
	}

	rel.Hash = "deadbeef"
	if err := Verify(content, rel); !errors.Is(err, ErrFileCorrupt) {
		t.Errorf("expected ErrFileCorrupt, got %v", err)
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"3.2.0", "3.1.5", 1},
		{"3.1.5", "3.2.0", -1},
		{"3.1.5", "3.1.5", 0},
		{"3.1.5.1", "3.1.5", 1},
		{"3.1", "3.1.0", 0},
		{"10.0", "9.9", 1},
	}
	for _, tt := range tests {
		if got := compareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("compareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
