package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"
)

// SelfSignedValidity is the default lifetime of generated identities.
const SelfSignedValidity = 365 * 24 * time.Hour

// GenerateSelfSigned creates an ECDSA P-256 identity valid for the given
// common name, localhost and the loopback addresses.
func GenerateSelfSigned(commonName string, validity time.Duration) (*Identity, error) {
	return GenerateSelfSignedFor(commonName, validity, []string{"localhost", "127.0.0.1", "::1"})
}

// GenerateSelfSignedFor creates an ECDSA P-256 identity whose subject
// alternative names are the common name plus hosts. Each host is added as
// an IP address when it parses as one, otherwise as a DNS name.
func GenerateSelfSignedFor(commonName string, validity time.Duration, hosts []string) (*Identity, error) {
	if validity <= 0 {
		validity = SelfSignedValidity
	}
	dnsNames, ips := splitHosts(append([]string{commonName}, hosts...))

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: commonName,
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              dnsNames,
		IPAddresses:           ips,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	c, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	return &Identity{Certificate: c, PrivateKey: key}, nil
}

// splitHosts separates IP addresses from DNS names, dropping blanks and
// duplicates.
func splitHosts(hosts []string) ([]string, []net.IP) {
	var (
		dnsNames []string
		ips      []net.IP
	)
	seen := make(map[string]bool)
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if ip := net.ParseIP(h); ip != nil {
			if key := ip.String(); !seen[key] {
				seen[key] = true
				ips = append(ips, ip)
			}
			continue
		}
		if key := strings.ToLower(h); !seen[key] {
			seen[key] = true
			dnsNames = append(dnsNames, h)
		}
	}
	return dnsNames, ips
}

// WriteIdentity writes the identity's certificate and key as PEM files.
func WriteIdentity(id *Identity, certPath, keyPath string) error {
	if err := WriteCertFile(certPath, id.Certificate); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	if err := WriteKeyFile(keyPath, id.PrivateKey); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	return nil
}
