// Package cert manages client certificates per server: on-disk caching,
// server-side validity checks and reissuance.
package cert

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"github.com/Amebis/eduvpn-client/internal/api"
)

// Certificate is a client certificate with its private key.
type Certificate struct {
	// PEM is the PEM-encoded certificate.
	PEM []byte

	// Key is the PEM-encoded private key.
	Key []byte

	// CommonName is the subject common name, used for server-side
	// validity checks.
	CommonName string

	// Hash is the content hash of the certificate PEM.
	Hash string
}

// CheckError is a terminal, non-retryable certificate failure: the server
// administratively disabled the user or the certificate. It is surfaced to
// the user, never worked around by reissuing.
type CheckError struct {
	Result api.CertCheckResult
}

// Error implements error.
func (e *CheckError) Error() string {
	return fmt.Sprintf("certificate check failed: %s", e.Result)
}

// newCertificate parses the key pair returned by the server's create call.
func newCertificate(kp *api.KeyPair) (*Certificate, error) {
	pemBytes := []byte(kp.Certificate)

	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no certificate in server response")
	}
	parsed, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &Certificate{
		PEM:        pemBytes,
		Key:        []byte(kp.PrivateKey),
		CommonName: parsed.Subject.CommonName,
		Hash:       contentHash(pemBytes),
	}, nil
}

// contentHash returns the hex SHA-256 of the certificate PEM.
func contentHash(pemBytes []byte) string {
	sum := sha256.Sum256(pemBytes)
	return hex.EncodeToString(sum[:])
}
