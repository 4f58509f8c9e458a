//go:build !windows

package store

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// Embedded key for at-rest encryption on platforms without a user-scoped
// OS key store. This keeps tokens out of plain text on disk; it is
// obfuscation, not strong protection, since the key ships in the binary.
var embeddedKey = [32]byte{
	0x4e, 0xd1, 0x27, 0x88, 0x0b, 0x93, 0xfa, 0x31,
	0xc5, 0x6a, 0x1e, 0xb7, 0x40, 0xdc, 0x92, 0x0f,
	0x85, 0x33, 0xae, 0x61, 0xf9, 0x12, 0x5c, 0xe8,
	0x77, 0x04, 0xbb, 0x2a, 0xd6, 0x49, 0x90, 0x1c,
}

// encryptValue seals data with nacl/secretbox. The result is the 24-byte
// nonce followed by the ciphertext.
func encryptValue(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &embeddedKey), nil
}

// decryptValue reverses encryptValue.
func decryptValue(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 24+secretbox.Overhead {
		return nil, fmt.Errorf("ciphertext too short")
	}

	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])

	plaintext, ok := secretbox.Open(nil, ciphertext[24:], &nonce, &embeddedKey)
	if !ok {
		return nil, fmt.Errorf("decryption failed")
	}
	return plaintext, nil
}
