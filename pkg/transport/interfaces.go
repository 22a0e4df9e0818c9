package transport

import (
	"crypto/tls"
	"io"
	"net"
)

// SecureConn is an established secure session.
// Implemented by Session.
type SecureConn interface {
	io.ReadWriteCloser

	// ID returns the unique session identifier.
	ID() string

	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr

	// TLSState returns the negotiated TLS state.
	TLSState() tls.ConnectionState
}

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	// ReadFrame reads a length-prefixed frame.
	ReadFrame() ([]byte, error)

	// WriteFrame writes a length-prefixed frame.
	WriteFrame(data []byte) error
}

// Compile-time interface satisfaction checks.
var (
	_ SecureConn      = (*Session)(nil)
	_ FrameReadWriter = (*Framer)(nil)
)
