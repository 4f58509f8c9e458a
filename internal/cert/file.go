package cert

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// certPath derives the per-server certificate file path. The identity is a
// URI, so the file name is its hash rather than the identity itself.
func certPath(dir, identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return filepath.Join(dir, hex.EncodeToString(sum[:8])+".pem")
}

// writeCertFile persists certificate and key to path atomically: the
// content is written to a temporary file in the same directory and renamed
// over any previous file, so a crash never leaves a partial certificate.
func writeCertFile(path string, c *Certificate) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}

	content := make([]byte, 0, len(c.PEM)+len(c.Key)+1)
	content = append(content, c.PEM...)
	if len(c.PEM) > 0 && c.PEM[len(c.PEM)-1] != '\n' {
		content = append(content, '\n')
	}
	content = append(content, c.Key...)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0600); err != nil {
		return fmt.Errorf("failed to write certificate file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace certificate file: %w", err)
	}
	return nil
}

// loadCertFile reads a cached certificate file. Returns nil, nil when the
// file does not exist; a corrupt file is an error so the caller can fall
// back to reissue.
func loadCertFile(path string) (*Certificate, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}

	var (
		certPEM []byte
		keyPEM  []byte
		cn      string
	)
	rest := content
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			parsed, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse cached certificate: %w", err)
			}
			cn = parsed.Subject.CommonName
			certPEM = pem.EncodeToMemory(block)
		default:
			keyPEM = pem.EncodeToMemory(block)
		}
	}

	if certPEM == nil || keyPEM == nil {
		return nil, fmt.Errorf("certificate file is incomplete")
	}

	return &Certificate{
		PEM:        certPEM,
		Key:        keyPEM,
		CommonName: cn,
		Hash:       contentHash(certPEM),
	}, nil
}
