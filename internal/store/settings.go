package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Keys in BucketApp.
const (
	keyLastSelectedServer = "last_selected_server"
	keySkipVersion        = "skip_version"
)

// ServerMemory is the per-server UI memory persisted across runs.
type ServerMemory struct {
	// LastUsername is the username last entered for this server.
	LastUsername string `cbor:"last_username,omitempty"`

	// Last2FAMethod is the second-factor method last chosen for this server.
	Last2FAMethod string `cbor:"last_2fa_method,omitempty"`

	// CertificateHash is the content hash of the client certificate last
	// issued for this server.
	CertificateHash string `cbor:"certificate_hash,omitempty"`
}

// Settings provides typed access to the persisted client settings.
type Settings struct {
	kv KeyValue
}

// NewSettings wraps a KeyValue store with typed settings accessors.
func NewSettings(kv KeyValue) *Settings {
	return &Settings{kv: kv}
}

// LastSelectedServer returns the identity remembered for auto-reconnect,
// or "" when none is set.
func (s *Settings) LastSelectedServer() (string, error) {
	v, err := s.kv.Get(BucketApp, keyLastSelectedServer, false)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// SetLastSelectedServer remembers the identity to auto-reconnect to.
func (s *Settings) SetLastSelectedServer(identity string) error {
	return s.kv.Set(BucketApp, keyLastSelectedServer, false, []byte(identity))
}

// ClearLastSelectedServer forgets the auto-reconnect identity.
func (s *Settings) ClearLastSelectedServer() error {
	return s.kv.Delete(BucketApp, keyLastSelectedServer)
}

// SkipVersion returns the self-update version the user chose to skip,
// or "" when none.
func (s *Settings) SkipVersion() (string, error) {
	v, err := s.kv.Get(BucketApp, keySkipVersion, false)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// SetSkipVersion remembers a self-update version to skip.
func (s *Settings) SetSkipVersion(version string) error {
	return s.kv.Set(BucketApp, keySkipVersion, false, []byte(version))
}

// ServerMemory returns the persisted memory for a server identity.
// A server never seen before yields the zero value.
func (s *Settings) ServerMemory(identity string) (ServerMemory, error) {
	var mem ServerMemory

	v, err := s.kv.Get(BucketServers, identity, false)
	if err != nil {
		return mem, err
	}
	if v == nil {
		return mem, nil
	}

	if err := cbor.Unmarshal(v, &mem); err != nil {
		return mem, fmt.Errorf("failed to decode server memory for %s: %w", identity, err)
	}
	return mem, nil
}

// SetServerMemory persists the memory for a server identity.
func (s *Settings) SetServerMemory(identity string, mem ServerMemory) error {
	v, err := cbor.Marshal(mem)
	if err != nil {
		return fmt.Errorf("failed to encode server memory for %s: %w", identity, err)
	}
	return s.kv.Set(BucketServers, identity, false, v)
}

// DeleteServerMemory removes all persisted memory for a server identity.
func (s *Settings) DeleteServerMemory(identity string) error {
	return s.kv.Delete(BucketServers, identity)
}
