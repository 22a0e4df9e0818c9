package peer

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/peerlink/peerlink-go/pkg/cert"
	"github.com/peerlink/peerlink-go/pkg/connection"
	"github.com/peerlink/peerlink-go/pkg/log"
	"github.com/peerlink/peerlink-go/pkg/transport"
)

// Defaults for a peer.
const (
	// DefaultPeerIP is the host address a client connects to.
	DefaultPeerIP = "127.0.0.1"

	// DefaultPayload is the message a client sends after connecting.
	DefaultPayload = "Player Data: X=10, Y=20"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Role selects which side of the link a peer plays.
type Role string

const (
	// RoleHost listens for one client.
	RoleHost Role = "host"

	// RoleClient connects to a host.
	RoleClient Role = "client"
)

// ParseRole parses "host" or "client". "server" is accepted for host.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "host", "server":
		return RoleHost, nil
	case "client":
		return RoleClient, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidConfig, s)
	}
}

// TransportRole returns the handshake role for r.
func (r Role) TransportRole() transport.Role {
	if r == RoleHost {
		return transport.RoleServer
	}
	return transport.RoleClient
}

// LogRole returns the protocol log role for r.
func (r Role) LogRole() log.Role {
	return r.TransportRole().LogRole()
}

// Config is the peer configuration. It can be loaded from YAML.
type Config struct {
	// Role is the default role for non-interactive runs.
	Role Role `yaml:"role"`

	// PeerIP is the host address clients connect to.
	PeerIP string `yaml:"peer_ip"`

	// Port is the host listen port and the client target port.
	Port int `yaml:"port"`

	// CertFile and KeyFile hold the local identity (PEM).
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// CAFile holds trust anchors for peer verification (optional).
	// Without it the local certificate is trusted.
	CAFile string `yaml:"ca_file,omitempty"`

	// ServerName overrides the name the client verifies (optional).
	ServerName string `yaml:"server_name,omitempty"`

	// Verify is "enforce" or "accept-any".
	Verify transport.VerifyPolicy `yaml:"verify"`

	// MaxAttempts and RetryDelay bound the client connect sequence.
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`

	// Backoff grows the delay exponentially from RetryDelay instead of
	// keeping it fixed.
	Backoff bool `yaml:"backoff"`

	// Payload is sent once by the client after connecting.
	Payload string `yaml:"payload"`

	// Framed enables length-prefixed framing on both sides.
	Framed bool `yaml:"framed"`

	// Reaccept makes the host accept again after a session ends.
	Reaccept bool `yaml:"reaccept"`

	// ProtocolLog is a CBOR event log path (optional).
	ProtocolLog string `yaml:"protocol_log,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Role:        RoleHost,
		PeerIP:      DefaultPeerIP,
		Port:        transport.DefaultPort,
		CertFile:    cert.DefaultCertFile,
		KeyFile:     cert.DefaultKeyFile,
		Verify:      transport.VerifyEnforce,
		MaxAttempts: connection.MaxRetries,
		RetryDelay:  connection.RetryDelay,
		Payload:     DefaultPayload,
	}
}

// ParseConfig decodes YAML over the defaults. Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Role != RoleHost && c.Role != RoleClient {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidConfig, c.Role)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be at least 1, got %d", ErrInvalidConfig, c.MaxAttempts)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("%w: retry_delay must not be negative", ErrInvalidConfig)
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return fmt.Errorf("%w: cert_file and key_file are required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.PeerIP) == "" {
		return fmt.Errorf("%w: peer_ip is required", ErrInvalidConfig)
	}
	return nil
}

// ListenAddress returns the host listen address.
func (c Config) ListenAddress() string {
	return ":" + strconv.Itoa(c.Port)
}

// PeerAddress returns the client target address.
func (c Config) PeerAddress() string {
	return net.JoinHostPort(c.PeerIP, strconv.Itoa(c.Port))
}

// SecureContext loads the identity and builds the context for role.
// Identity errors match cert.ErrIdentityLoad or cert.ErrKeyMismatch.
func (c Config) SecureContext(role transport.Role, logger log.Logger) (*transport.SecureContext, error) {
	id, err := cert.LoadIdentity(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, err
	}

	opts := transport.ContextOptions{
		Policy:     c.Verify,
		ServerName: c.ServerName,
		Logger:     logger,
	}
	if c.CAFile != "" {
		roots, err := cert.ReadCertFile(c.CAFile)
		if err != nil {
			return nil, &cert.IdentityLoadError{Path: c.CAFile, Err: err}
		}
		pool := x509.NewCertPool()
		for _, root := range roots {
			pool.AddCert(root)
		}
		opts.RootCAs = pool
	}

	return transport.NewSecureContext(role, id, opts)
}
