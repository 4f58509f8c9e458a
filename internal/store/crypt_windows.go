//go:build windows

package store

import (
	"github.com/billgraziano/dpapi"
)

// encryptValue protects data with Windows DPAPI, scoped to the current user.
func encryptValue(plaintext []byte) ([]byte, error) {
	return dpapi.EncryptBytes(plaintext)
}

// decryptValue reverses encryptValue.
func decryptValue(ciphertext []byte) ([]byte, error) {
	return dpapi.DecryptBytes(ciphertext)
}
