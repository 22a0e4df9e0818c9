package transport

import (
	"context"
	"net"
)

// The Submit helpers run one connection step off the reactor goroutine and
// deliver its result to done on the goroutine running the reactor. A socket
// or session whose completion is discarded by Reactor.Close is closed.

// SubmitAcceptConn waits for one connection on ln. Cancelling ctx closes ln.
func SubmitAcceptConn(ctx context.Context, r *Reactor, ln net.Listener, done func(net.Conn, error)) error {
	return submitResult(r, func() (net.Conn, error) {
		return AcceptConn(ctx, ln)
	}, done, closeConn)
}

// SubmitDial resolves host and connects to host:port.
func SubmitDial(ctx context.Context, r *Reactor, host string, port int, done func(net.Conn, error)) error {
	return submitResult(r, func() (net.Conn, error) {
		return Dial(ctx, host, port)
	}, done, closeConn)
}

// SubmitAccept performs the server handshake over raw.
func SubmitAccept(ctx context.Context, r *Reactor, raw net.Conn, sc *SecureContext, done func(*Session, error)) error {
	return submitResult(r, func() (*Session, error) {
		return Accept(ctx, raw, sc)
	}, done, closeSession)
}

// SubmitConnect performs the client handshake over raw, verifying the host
// against serverName.
func SubmitConnect(ctx context.Context, r *Reactor, raw net.Conn, sc *SecureContext, serverName string, done func(*Session, error)) error {
	return submitResult(r, func() (*Session, error) {
		return Connect(ctx, raw, sc, serverName)
	}, done, closeSession)
}

// submitResult adapts a value-returning step to the reactor. The value is
// written by the helper goroutine before the completion is queued and read
// only by the completion.
func submitResult[T any](r *Reactor, op func() (T, error), done func(T, error), release func(T)) error {
	var v T
	return r.submit(func() (int, error) {
		var err error
		v, err = op()
		return 0, err
	}, func(_ int, err error) {
		done(v, err)
	}, func() {
		release(v)
	})
}

func closeConn(c net.Conn) {
	if c != nil {
		c.Close()
	}
}

func closeSession(s *Session) {
	if s != nil {
		s.Close()
	}
}
