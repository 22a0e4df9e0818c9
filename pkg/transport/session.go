package transport

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peerlink/peerlink-go/pkg/cert"
	"github.com/peerlink/peerlink-go/pkg/log"
)

// Session is an established TLS session over a connected socket.
// Read and Write may be used from different goroutines; Close is idempotent.
type Session struct {
	conn     net.Conn
	tlsState tls.ConnectionState
	role     Role
	id       string
	remote   string
	logger   log.Logger

	framerOnce sync.Once
	framer     *Framer

	closeOnce sync.Once
	closeCh   chan struct{}
}

// Accept performs the server handshake over an accepted socket.
// On failure raw is closed and a *HandshakeError is returned.
func Accept(ctx context.Context, raw net.Conn, sc *SecureContext) (*Session, error) {
	if sc == nil {
		return nil, ErrNoSecureContext
	}
	if sc.role != RoleServer {
		return nil, ErrRoleMismatch
	}
	return handshake(ctx, tls.Server(raw, sc.config), raw, sc)
}

// Connect performs the client handshake over a connected socket.
// serverName is the host part of the dialed address and is what the host
// certificate is verified against, unless ContextOptions.ServerName is set.
// When empty, the remote IP is used.
// On failure raw is closed and a *HandshakeError is returned.
func Connect(ctx context.Context, raw net.Conn, sc *SecureContext, serverName string) (*Session, error) {
	if sc == nil {
		return nil, ErrNoSecureContext
	}
	if sc.role != RoleClient {
		return nil, ErrRoleMismatch
	}

	if serverName == "" {
		if addr := raw.RemoteAddr(); addr != nil {
			if host, _, err := net.SplitHostPort(addr.String()); err == nil {
				serverName = host
			}
		}
	}
	return handshake(ctx, tls.Client(raw, sc.configFor(serverName)), raw, sc)
}

func handshake(ctx context.Context, tlsConn *tls.Conn, raw net.Conn, sc *SecureContext) (*Session, error) {
	remote := ""
	if addr := raw.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		herr := newHandshakeError(sc.role, err)
		logHandshakeError(sc, remote, herr)
		return nil, herr
	}

	state := tlsConn.ConnectionState()
	if err := VerifyALPN(state); err != nil {
		tlsConn.Close()
		herr := &HandshakeError{Role: sc.role, Code: NoAlert, Err: err}
		logHandshakeError(sc, remote, herr)
		return nil, herr
	}

	s := newSession(tlsConn, state, sc.role, sc.logger)
	s.logState("", "CONNECTED")
	return s, nil
}

func newSession(conn net.Conn, state tls.ConnectionState, role Role, logger log.Logger) *Session {
	s := &Session{
		conn:     conn,
		tlsState: state,
		role:     role,
		id:       uuid.New().String(),
		logger:   log.OrNoop(logger),
		closeCh:  make(chan struct{}),
	}
	if addr := conn.RemoteAddr(); addr != nil {
		s.remote = addr.String()
	}
	return s
}

func logHandshakeError(sc *SecureContext, remote string, herr *HandshakeError) {
	var code *int
	if herr.Code != NoAlert {
		c := herr.Code
		code = &c
	}
	sc.logger.Log(log.Event{
		Timestamp:  time.Now(),
		Layer:      log.LayerTransport,
		Category:   log.CategoryError,
		LocalRole:  sc.role.LogRole(),
		RemoteAddr: remote,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: herr.Err.Error(),
			Code:    code,
			Context: "handshake",
		},
	})
}

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

// Role returns the local handshake role.
func (s *Session) Role() Role { return s.role }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// LocalAddr returns the local address.
func (s *Session) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// TLSState returns the negotiated TLS state.
func (s *Session) TLSState() tls.ConnectionState { return s.tlsState }

// PeerFingerprint returns the SHA-256 fingerprint of the peer's leaf
// certificate, or "" if the peer presented none.
func (s *Session) PeerFingerprint() string {
	if len(s.tlsState.PeerCertificates) == 0 {
		return ""
	}
	return cert.Fingerprint(s.tlsState.PeerCertificates[0])
}

// Read reads decrypted bytes from the session.
func (s *Session) Read(p []byte) (int, error) {
	n, err := s.conn.Read(p)
	if n > 0 {
		s.logData(p[:n], log.DirectionIn)
	}
	return n, err
}

// Write encrypts and writes p to the session.
func (s *Session) Write(p []byte) (int, error) {
	select {
	case <-s.closeCh:
		return 0, ErrConnectionClosed
	default:
	}

	n, err := s.conn.Write(p)
	if n > 0 {
		s.logData(p[:n], log.DirectionOut)
	}
	return n, err
}

// Framer returns a length-prefix framer over the session.
// Frames are logged at the framing layer with the session ID.
func (s *Session) Framer() *Framer {
	s.framerOnce.Do(func() {
		s.framer = NewFramer(s, WithFrameLogger(s.logger, s.id, s.role.LogRole()))
	})
	return s.framer
}

// Close closes the session and its socket.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		err = s.conn.Close()
		s.logState("CONNECTED", "DISCONNECTED")
	})
	return err
}

// Done returns a channel that is closed when the session is closed locally.
func (s *Session) Done() <-chan struct{} {
	return s.closeCh
}

func (s *Session) logData(p []byte, dir log.Direction) {
	s.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.id,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryData,
		LocalRole:    s.role.LogRole(),
		RemoteAddr:   s.remote,
		Data:         log.NewDataEvent(p),
	})
}

func (s *Session) logState(oldState, newState string) {
	s.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.id,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    s.role.LogRole(),
		RemoteAddr:   s.remote,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: oldState,
			NewState: newState,
		},
	})
}
