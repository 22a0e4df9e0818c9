package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/peerlink/peerlink-go/pkg/cert"
	"github.com/peerlink/peerlink-go/pkg/log"
	"github.com/peerlink/peerlink-go/pkg/version"
)

// TLS constants for the peer link.
const (
	// ALPNProtocol is the application protocol identifier of the current version.
	ALPNProtocol = "peerlink/1"

	// DefaultPort is the default host port.
	DefaultPort = 12345
)

// Secure context errors.
var (
	ErrNoIdentity      = errors.New("identity is required")
	ErrRoleMismatch    = errors.New("secure context role mismatch")
	ErrUnknownPolicy   = errors.New("unknown verify policy")
	ErrALPNMismatch    = errors.New("ALPN protocol mismatch")
	ErrNoSecureContext = errors.New("secure context is required")
)

// Role selects server- or client-mode TLS behavior.
type Role uint8

const (
	// RoleServer performs the server side of the handshake.
	RoleServer Role = iota

	// RoleClient performs the client side of the handshake.
	RoleClient
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// LogRole maps r to the protocol log role.
func (r Role) LogRole() log.Role {
	if r == RoleServer {
		return log.RoleHost
	}
	return log.RoleClient
}

// VerifyPolicy controls how the peer certificate is checked.
type VerifyPolicy uint8

const (
	// VerifyEnforce requires a peer certificate that chains to a trusted root.
	VerifyEnforce VerifyPolicy = iota

	// VerifyAcceptAny accepts any peer certificate. Testing and legacy peers only.
	VerifyAcceptAny
)

// String returns the policy name as used in configuration.
func (p VerifyPolicy) String() string {
	switch p {
	case VerifyEnforce:
		return "enforce"
	case VerifyAcceptAny:
		return "accept-any"
	default:
		return "unknown"
	}
}

// ParseVerifyPolicy parses "enforce" or "accept-any".
func ParseVerifyPolicy(s string) (VerifyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "enforce":
		return VerifyEnforce, nil
	case "accept-any", "acceptany", "accept_any":
		return VerifyAcceptAny, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p VerifyPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *VerifyPolicy) UnmarshalText(text []byte) error {
	v, err := ParseVerifyPolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ContextOptions configures a SecureContext.
type ContextOptions struct {
	// Policy selects peer verification. Zero value is VerifyEnforce.
	Policy VerifyPolicy

	// RootCAs are the trust anchors for VerifyEnforce.
	// When nil, the local certificate is trusted (self-signed peer pairs).
	RootCAs *x509.CertPool

	// ServerName is the name clients verify the host certificate against.
	// When empty, the host part of the dialed address is used.
	ServerName string

	// Logger records handshake outcomes and session data (optional).
	Logger log.Logger
}

// SecureContext is a role-specific TLS configuration built once and shared
// read-only by every session of that role.
type SecureContext struct {
	role        Role
	policy      VerifyPolicy
	config      *tls.Config
	fingerprint string
	logger      log.Logger
}

// NewSecureContext builds a server or client context from id.
// The crypto runtime must have been started with Startup.
func NewSecureContext(role Role, id *cert.Identity, opts ContextOptions) (*SecureContext, error) {
	if !RuntimeStarted() {
		return nil, ErrRuntimeNotStarted
	}
	if id == nil || id.Certificate == nil || id.PrivateKey == nil {
		return nil, ErrNoIdentity
	}

	roots := opts.RootCAs
	if roots == nil {
		roots = id.CertPool()
	}

	cfg := &tls.Config{
		// TLS 1.3 preferred; 1.2 accepted for older peers
		MinVersion: tls.VersionTLS12,

		Certificates: []tls.Certificate{id.TLSCertificate()},
		NextProtos:   version.SupportedALPNProtocols(),

		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},

		// No resumption
		SessionTicketsDisabled: true,
	}

	switch role {
	case RoleServer:
		cfg.ClientCAs = roots
		switch opts.Policy {
		case VerifyEnforce:
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
		case VerifyAcceptAny:
			cfg.ClientAuth = tls.RequestClientCert
		default:
			return nil, fmt.Errorf("%w: %d", ErrUnknownPolicy, opts.Policy)
		}
	case RoleClient:
		cfg.RootCAs = roots
		cfg.ServerName = opts.ServerName
		switch opts.Policy {
		case VerifyEnforce:
		case VerifyAcceptAny:
			cfg.InsecureSkipVerify = true
		default:
			return nil, fmt.Errorf("%w: %d", ErrUnknownPolicy, opts.Policy)
		}
	default:
		return nil, fmt.Errorf("unknown role %d", role)
	}

	return &SecureContext{
		role:        role,
		policy:      opts.Policy,
		config:      cfg,
		fingerprint: id.Fingerprint(),
		logger:      log.OrNoop(opts.Logger),
	}, nil
}

// Role returns the handshake role of the context.
func (sc *SecureContext) Role() Role { return sc.role }

// Policy returns the peer verification policy.
func (sc *SecureContext) Policy() VerifyPolicy { return sc.policy }

// LocalFingerprint returns the SHA-256 fingerprint of the local certificate.
func (sc *SecureContext) LocalFingerprint() string { return sc.fingerprint }

// Config returns a copy of the underlying TLS configuration.
func (sc *SecureContext) Config() *tls.Config { return sc.config.Clone() }

// configFor returns the TLS configuration for a session to serverName.
func (sc *SecureContext) configFor(serverName string) *tls.Config {
	if sc.role != RoleClient || sc.config.ServerName != "" || sc.config.InsecureSkipVerify {
		return sc.config
	}
	cfg := sc.config.Clone()
	cfg.ServerName = serverName
	return cfg
}

// VerifyALPN checks the negotiated application protocol.
// An empty protocol is accepted for peers that do not send ALPN; otherwise
// the major version must match the current one.
func VerifyALPN(state tls.ConnectionState) error {
	if state.NegotiatedProtocol == "" {
		return nil
	}
	major, err := version.MajorFromALPN(state.NegotiatedProtocol)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrALPNMismatch, err)
	}
	if major != version.MustCurrent().Major {
		return fmt.Errorf("%w: %q is not %q", ErrALPNMismatch, state.NegotiatedProtocol, ALPNProtocol)
	}
	return nil
}
