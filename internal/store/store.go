// Package store provides durable key/value persistence for client state:
// access tokens, per-server memory and application settings.
//
// The core is written against the KeyValue interface so it can be tested
// without touching the filesystem. The production implementation is a bbolt
// database; values flagged sensitive are encrypted at rest with a
// machine/user-scoped key (DPAPI on Windows, nacl/secretbox elsewhere).
package store

import (
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// Bucket names. Tokens are stored encrypted; the rest is plain.
const (
	BucketTokens  = "tokens"
	BucketServers = "servers"
	BucketApp     = "app"
)

// KeyValue is the persistence interface injected into the credential store
// and settings helpers.
type KeyValue interface {
	// Get retrieves a value. Returns nil, nil when the key is absent.
	// When decrypt is true the stored value is decrypted before returning.
	Get(bucket, key string, decrypt bool) ([]byte, error)

	// Set stores a value, creating the bucket if needed.
	// When encrypt is true the value is encrypted before storing.
	Set(bucket, key string, encrypt bool, value []byte) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(bucket, key string) error

	// Close releases the underlying storage.
	Close() error
}

// Bolt is the bbolt-backed KeyValue implementation.
type Bolt struct {
	db *bolt.DB
}

// Open opens (or creates) the bbolt database at path.
func Open(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	return &Bolt{db: db}, nil
}

// Get implements KeyValue.
func (b *Bolt) Get(bucket, key string, decrypt bool) ([]byte, error) {
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(bucket))
		if bk == nil {
			return nil
		}
		if v := bk.Get([]byte(key)); v != nil {
			value = make([]byte, len(v))
			copy(value, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", bucket, key, err)
	}
	if value == nil {
		return nil, nil
	}

	if decrypt {
		plain, err := decryptValue(value)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt %s/%s: %w", bucket, key, err)
		}
		return plain, nil
	}
	return value, nil
}

// Set implements KeyValue.
func (b *Bolt) Set(bucket, key string, encrypt bool, value []byte) error {
	if encrypt {
		sealed, err := encryptValue(value)
		if err != nil {
			return fmt.Errorf("failed to encrypt %s/%s: %w", bucket, key, err)
		}
		value = sealed
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bk, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return bk.Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Delete implements KeyValue.
func (b *Bolt) Delete(bucket, key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(bucket))
		if bk == nil {
			return nil
		}
		return bk.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Close implements KeyValue.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// Memory is an in-memory KeyValue for tests. Encryption flags are accepted
// but values are kept in plain form.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]map[string][]byte)}
}

// Get implements KeyValue.
func (m *Memory) Get(bucket, key string, decrypt bool) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bk, ok := m.buckets[bucket]
	if !ok {
		return nil, nil
	}
	v, ok := bk[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set implements KeyValue.
func (m *Memory) Set(bucket, key string, encrypt bool, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bk, ok := m.buckets[bucket]
	if !ok {
		bk = make(map[string][]byte)
		m.buckets[bucket] = bk
	}
	v := make([]byte, len(value))
	copy(v, value)
	bk[key] = v
	return nil
}

// Delete implements KeyValue.
func (m *Memory) Delete(bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bk, ok := m.buckets[bucket]; ok {
		delete(bk, key)
	}
	return nil
}

// Close implements KeyValue.
func (m *Memory) Close() error {
	return nil
}
