package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// CertCheckResult is the server's verdict on a client certificate.
type CertCheckResult int

const (
	// CheckUnknown means the server gave no recognizable verdict.
	CheckUnknown CertCheckResult = iota
	// CheckValid means the certificate is usable.
	CheckValid
	// CheckInvalid means the certificate is not usable, with no
	// specific reason.
	CheckInvalid
	// CheckCertificateMissing means the server has no record of the
	// certificate.
	CheckCertificateMissing
	// CheckUserDisabled means the user account is administratively
	// disabled.
	CheckUserDisabled
	// CheckCertificateDisabled means the certificate is administratively
	// disabled.
	CheckCertificateDisabled
	// CheckCertificateNotYetValid means the certificate's validity
	// window has not started.
	CheckCertificateNotYetValid
	// CheckCertificateExpired means the certificate's validity window
	// has passed.
	CheckCertificateExpired
)

// String returns the server's wire name for the result.
func (r CertCheckResult) String() string {
	switch r {
	case CheckValid:
		return "valid"
	case CheckInvalid:
		return "invalid"
	case CheckCertificateMissing:
		return "certificate_missing"
	case CheckUserDisabled:
		return "user_disabled"
	case CheckCertificateDisabled:
		return "certificate_disabled"
	case CheckCertificateNotYetValid:
		return "certificate_not_yet_valid"
	case CheckCertificateExpired:
		return "certificate_expired"
	default:
		return "unknown"
	}
}

// checkResultFromReason maps the server's reason string onto the enum.
func checkResultFromReason(valid bool, reason string) CertCheckResult {
	if valid {
		return CheckValid
	}
	switch reason {
	case "certificate_missing":
		return CheckCertificateMissing
	case "user_disabled":
		return CheckUserDisabled
	case "certificate_disabled":
		return CheckCertificateDisabled
	case "certificate_not_yet_valid":
		return CheckCertificateNotYetValid
	case "certificate_expired":
		return CheckCertificateExpired
	case "":
		return CheckInvalid
	default:
		return CheckUnknown
	}
}

// KeyPair is the certificate material returned by the create call.
type KeyPair struct {
	// Certificate is the PEM-encoded client certificate.
	Certificate string

	// PrivateKey is the PEM-encoded private key. The server issues the
	// key non-exportable by policy; it exists only in this response and
	// in the client's certificate file.
	PrivateKey string
}

type checkCertificateResponse struct {
	CheckCertificate struct {
		Data struct {
			IsValid bool   `json:"is_valid"`
			Reason  string `json:"reason"`
		} `json:"data"`
		OK bool `json:"ok"`
	} `json:"check_certificate"`
}

type createCertificateResponse struct {
	CreateCertificate struct {
		Data struct {
			Certificate string `json:"certificate"`
			PrivateKey  string `json:"private_key"`
		} `json:"data"`
		OK bool `json:"ok"`
	} `json:"create_certificate"`
}

// CheckCertificate asks the server whether the certificate with the given
// common name is still usable.
func (c *Client) CheckCertificate(ctx context.Context, base, token, commonName string) (CertCheckResult, error) {
	u := endpoint(base, "check_certificate") + "?common_name=" + url.QueryEscape(commonName)

	_, body, err := c.do(ctx, "certificate check", http.MethodGet, u, token, nil)
	if err != nil {
		return CheckUnknown, err
	}

	var parsed checkCertificateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return CheckUnknown, fmt.Errorf("failed to parse certificate check response: %w", err)
	}
	if !parsed.CheckCertificate.OK {
		return CheckUnknown, nil
	}
	return checkResultFromReason(parsed.CheckCertificate.Data.IsValid, parsed.CheckCertificate.Data.Reason), nil
}

// CreateCertificate asks the server to issue a new client certificate.
func (c *Client) CreateCertificate(ctx context.Context, base, token, displayName string) (*KeyPair, error) {
	form := url.Values{"display_name": {displayName}}

	_, body, err := c.do(ctx, "certificate create", http.MethodPost, endpoint(base, "create_certificate"), token, form)
	if err != nil {
		return nil, err
	}

	var parsed createCertificateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse certificate create response: %w", err)
	}
	if !parsed.CreateCertificate.OK {
		return nil, fmt.Errorf("server refused to issue certificate")
	}
	if parsed.CreateCertificate.Data.Certificate == "" || parsed.CreateCertificate.Data.PrivateKey == "" {
		return nil, fmt.Errorf("certificate create response missing key material")
	}

	return &KeyPair{
		Certificate: parsed.CreateCertificate.Data.Certificate,
		PrivateKey:  parsed.CreateCertificate.Data.PrivateKey,
	}, nil
}
