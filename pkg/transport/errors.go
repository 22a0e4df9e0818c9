package transport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"reflect"
)

// Transport errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrReactorClosed    = errors.New("reactor closed")
	ErrReactorRunning   = errors.New("reactor already running")
)

// NoAlert is the HandshakeError code when the failure was not a TLS alert.
const NoAlert = -1

// HandshakeError reports a failed TLS handshake.
type HandshakeError struct {
	// Role is the local handshake role.
	Role Role

	// Code is the TLS alert code, or NoAlert.
	Code int

	// Err is the underlying failure.
	Err error
}

func (e *HandshakeError) Error() string {
	if e.Code != NoAlert {
		return fmt.Sprintf("%s handshake failed (alert %d): %v", e.Role, e.Code, e.Err)
	}
	return fmt.Sprintf("%s handshake failed: %v", e.Role, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

func newHandshakeError(role Role, err error) *HandshakeError {
	return &HandshakeError{Role: role, Code: alertCode(err), Err: err}
}

// alertCode extracts a TLS alert code from a handshake error.
// Alerts received from the peer surface as a net.OpError whose Err is the
// uint8-based alert type.
func alertCode(err error) int {
	var ae tls.AlertError
	if errors.As(err, &ae) {
		return int(ae)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "remote error" && opErr.Err != nil {
		if v := reflect.ValueOf(opErr.Err); v.Kind() == reflect.Uint8 {
			return int(v.Uint())
		}
	}
	return NoAlert
}

// TransportError reports a socket-level failure.
type TransportError struct {
	// Op is the failed operation: resolve, dial, listen, accept, read or write.
	Op string

	// Err is the underlying failure.
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err for operation op. A nil err returns nil.
func NewTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}
