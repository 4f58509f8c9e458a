package cred

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	gocache "github.com/patrickmn/go-cache"

	"github.com/Amebis/eduvpn-client/internal/store"
)

// tokenRecord is the durable form of a Token.
type tokenRecord struct {
	Value        string    `cbor:"value"`
	RefreshToken string    `cbor:"refresh_token,omitempty"`
	Scope        []string  `cbor:"scope,omitempty"`
	Expiry       time.Time `cbor:"expiry,omitempty"`
	Invalid      bool      `cbor:"invalid,omitempty"`
}

// Store maps server identities to access tokens.
//
// Reads and writes for a single identity are totally ordered: all mutation
// goes through a process-wide lock, and authorization flows additionally
// hold a per-identity lock (see Lock) so at most one flow runs per server.
// Tokens are written through to the durable store, encrypted at rest.
type Store struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	cache *gocache.Cache
	kv    store.KeyValue
}

// NewStore creates a credential store backed by kv.
func NewStore(kv store.KeyValue) *Store {
	return &Store{
		locks: make(map[string]*sync.Mutex),
		cache: gocache.New(gocache.NoExpiration, 10*time.Minute),
		kv:    kv,
	}
}

// Lock acquires the per-identity authorization lock and returns the unlock
// function. Callers hold it for the whole of one authorization or
// certificate flow so flows for the same server never race.
func (s *Store) Lock(identity string) func() {
	s.mu.Lock()
	l, ok := s.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		s.locks[identity] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Token returns the stored token for an identity, falling back to the
// durable store when not cached. The second result is false when no token
// is stored.
func (s *Store) Token(identity string) (*Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token(identity)
}

func (s *Store) token(identity string) (*Token, bool) {
	if v, ok := s.cache.Get(identity); ok {
		return v.(*Token), true
	}

	raw, err := s.kv.Get(store.BucketTokens, identity, true)
	if err != nil {
		slog.Warn("failed to load stored token", "identity", identity, "error", err)
		return nil, false
	}
	if raw == nil {
		return nil, false
	}

	var rec tokenRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		slog.Warn("failed to decode stored token", "identity", identity, "error", err)
		return nil, false
	}

	t := &Token{
		Value:        rec.Value,
		RefreshToken: rec.RefreshToken,
		Scope:        rec.Scope,
		Expiry:       rec.Expiry,
		Invalid:      rec.Invalid,
	}
	s.cache.Set(identity, t, gocache.NoExpiration)
	return t, true
}

// Set stores a token for an identity, replacing any previous one, and
// writes it through to the durable store.
func (s *Store) Set(identity string, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := tokenRecord{
		Value:        t.Value,
		RefreshToken: t.RefreshToken,
		Scope:        t.Scope,
		Expiry:       t.Expiry,
		Invalid:      t.Invalid,
	}
	raw, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode token for %s: %w", identity, err)
	}
	if err := s.kv.Set(store.BucketTokens, identity, true, raw); err != nil {
		return err
	}

	s.cache.Set(identity, t, gocache.NoExpiration)
	return nil
}

// Delete drops the token for an identity from memory and durable storage.
func (s *Store) Delete(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Delete(identity)
	return s.kv.Delete(store.BucketTokens, identity)
}

// MarkInvalid flags the stored token as permanently invalid. The flag is
// persisted so the marker survives a restart; the token itself is kept
// until the next authorization attempt drops it.
func (s *Store) MarkInvalid(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.token(identity)
	if !ok {
		return nil
	}

	marked := *t
	marked.Invalid = true

	rec := tokenRecord{
		Value:        marked.Value,
		RefreshToken: marked.RefreshToken,
		Scope:        marked.Scope,
		Expiry:       marked.Expiry,
		Invalid:      true,
	}
	raw, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode token for %s: %w", identity, err)
	}
	if err := s.kv.Set(store.BucketTokens, identity, true, raw); err != nil {
		return err
	}

	s.cache.Set(identity, &marked, gocache.NoExpiration)
	return nil
}
