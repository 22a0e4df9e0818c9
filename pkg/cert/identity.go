package cert

import (
	"crypto"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
)

// Default identity file locations, relative to the working directory.
const (
	DefaultCertFile = "server.crt"
	DefaultKeyFile  = "server.key"
)

// Identity errors.
var (
	// ErrIdentityLoad indicates the certificate or key file is missing or malformed.
	ErrIdentityLoad = errors.New("identity load failed")

	// ErrKeyMismatch indicates the private key does not belong to the certificate.
	ErrKeyMismatch = errors.New("private key does not match certificate")
)

// IdentityLoadError describes which identity file could not be loaded.
type IdentityLoadError struct {
	Path string
	Err  error
}

func (e *IdentityLoadError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrIdentityLoad, e.Path, e.Err)
}

// Unwrap returns the underlying errors so that errors.Is matches both
// ErrIdentityLoad and the cause (for example fs.ErrNotExist).
func (e *IdentityLoadError) Unwrap() []error {
	return []error{ErrIdentityLoad, e.Err}
}

// Identity is the local certificate and its private key.
// It is loaded once and never mutated afterwards.
type Identity struct {
	// Certificate is the leaf certificate presented to peers.
	Certificate *x509.Certificate

	// Intermediates are any further certificates found in the certificate file.
	Intermediates []*x509.Certificate

	// PrivateKey is the key matching Certificate.
	PrivateKey crypto.Signer
}

// LoadIdentity reads a PEM certificate (chain) and private key from disk
// and checks that they belong together.
func LoadIdentity(certPath, keyPath string) (*Identity, error) {
	chain, err := ReadCertFile(certPath)
	if err != nil {
		return nil, &IdentityLoadError{Path: certPath, Err: err}
	}
	key, err := ReadKeyFile(keyPath)
	if err != nil {
		return nil, &IdentityLoadError{Path: keyPath, Err: err}
	}

	id := &Identity{
		Certificate:   chain[0],
		Intermediates: chain[1:],
		PrivateKey:    key,
	}
	if err := VerifyKeyPair(id.Certificate, id.PrivateKey); err != nil {
		return nil, err
	}
	return id, nil
}

// TLSCertificate converts the identity to a tls.Certificate.
func (id *Identity) TLSCertificate() tls.Certificate {
	if id == nil || id.Certificate == nil || id.PrivateKey == nil {
		return tls.Certificate{}
	}
	raw := make([][]byte, 0, 1+len(id.Intermediates))
	raw = append(raw, id.Certificate.Raw)
	for _, c := range id.Intermediates {
		raw = append(raw, c.Raw)
	}
	return tls.Certificate{
		Certificate: raw,
		PrivateKey:  id.PrivateKey,
		Leaf:        id.Certificate,
	}
}

// CertPool returns a pool that trusts this identity's own certificate.
// Useful when both peers share one self-signed identity.
func (id *Identity) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	if id != nil && id.Certificate != nil {
		pool.AddCert(id.Certificate)
	}
	return pool
}

// Fingerprint returns the hex SHA-256 of the certificate's DER bytes.
func (id *Identity) Fingerprint() string {
	if id == nil || id.Certificate == nil {
		return ""
	}
	return Fingerprint(id.Certificate)
}

// Fingerprint returns the hex SHA-256 of a certificate's DER bytes.
func Fingerprint(c *x509.Certificate) string {
	sum := sha256.Sum256(c.Raw)
	return hex.EncodeToString(sum[:])
}
