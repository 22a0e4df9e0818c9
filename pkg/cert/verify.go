package cert

import (
	"crypto"
	"crypto/x509"
	"fmt"
)

// publicKeyEqualer is implemented by every public key type in the standard library.
type publicKeyEqualer interface {
	Equal(x crypto.PublicKey) bool
}

// VerifyKeyPair checks that key is the private half of cert's public key.
func VerifyKeyPair(cert *x509.Certificate, key crypto.Signer) error {
	if cert == nil || key == nil {
		return fmt.Errorf("%w: certificate and key are required", ErrKeyMismatch)
	}
	pub, ok := key.Public().(publicKeyEqualer)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
	if !pub.Equal(cert.PublicKey) {
		return ErrKeyMismatch
	}
	return nil
}
