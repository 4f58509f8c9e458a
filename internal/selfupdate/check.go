// Package selfupdate checks whether a newer client release is available.
// It only decides availability; downloading and launching the installer is
// out of scope here. Its failures are distinct error values so the shared
// task-error surface can tell them apart from authorization and
// certificate errors.
package selfupdate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Amebis/eduvpn-client/internal/retry"
	"github.com/Amebis/eduvpn-client/internal/store"
)

var (
	// ErrFileUnavailable means the release discovery document or the
	// installer it points at could not be obtained.
	ErrFileUnavailable = errors.New("installer file unavailable")

	// ErrFileCorrupt means downloaded content did not match its
	// published hash.
	ErrFileCorrupt = errors.New("downloaded file corrupt")
)

// Release describes an available client release.
type Release struct {
	// Version is the release version, dotted-decimal.
	Version string `json:"version"`

	// URI is where the installer can be downloaded.
	URI string `json:"uri"`

	// Hash is the hex SHA-256 of the installer.
	Hash string `json:"hash-sha256"`
}

// Checker fetches the release discovery document and compares it against
// the running version.
type Checker struct {
	http     *http.Client
	url      string
	current  string
	settings *store.Settings
}

// NewChecker creates a checker for the given discovery URL and running
// version.
func NewChecker(url, current string, settings *store.Settings) *Checker {
	return &Checker{
		http:     &http.Client{Timeout: 10 * time.Second},
		url:      url,
		current:  current,
		settings: settings,
	}
}

// Check returns the available release, or nil when the client is up to
// date or the user chose to skip the offered version.
func (c *Checker) Check(ctx context.Context) (*Release, error) {
	var rel Release
	err := retry.Do(ctx, retry.DefaultAttempts, retry.DefaultDelay, "release check", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return retry.Permanent(fmt.Errorf("%w: status %d", ErrFileUnavailable, resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
			return retry.Permanent(fmt.Errorf("%w: %v", ErrFileUnavailable, err))
		}
		return nil
	})
	if err != nil {
		var netErr *retry.NetworkError
		if errors.As(err, &netErr) {
			return nil, fmt.Errorf("%w: %v", ErrFileUnavailable, err)
		}
		return nil, err
	}

	if compareVersions(rel.Version, c.current) <= 0 {
		return nil, nil
	}

	if skip, err := c.settings.SkipVersion(); err == nil && skip == rel.Version {
		slog.Debug("release skipped by user", "version", rel.Version)
		return nil, nil
	}

	slog.Info("newer release available", "version", rel.Version, "current", c.current)
	return &rel, nil
}

// Verify checks downloaded installer content against the release hash.
func Verify(content []byte, rel *Release) error {
	sum := sha256.Sum256(content)
	if !strings.EqualFold(hex.EncodeToString(sum[:]), rel.Hash) {
		return ErrFileCorrupt
	}
	return nil
}

// compareVersions compares dotted-decimal versions; non-numeric segments
// compare as zero. Returns -1, 0 or 1.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var an, bn int
		if i < len(as) {
			an, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bn, _ = strconv.Atoi(bs[i])
		}
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
	}
	return 0
}
