package transport

import (
	"context"
	"net"
	"strconv"
	"time"

	"go.uber.org/multierr"
)

// DefaultConnectTimeout bounds a single dial when the context has no deadline.
const DefaultConnectTimeout = 30 * time.Second

// Listen binds a TCP listener on address.
func Listen(ctx context.Context, address string) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, NewTransportError("listen", err)
	}
	return ln, nil
}

// AcceptConn waits for one connection on ln. Cancelling ctx closes ln.
func AcceptConn(ctx context.Context, ln net.Listener) (net.Conn, error) {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewTransportError("accept", err)
	}
	return conn, nil
}

// Dial resolves host and opens a TCP connection to host:port, trying each
// resolved address in order. Resolution failures are reported with Op
// "resolve", connect failures with Op "dial" carrying every address error.
func Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultConnectTimeout)
		defer cancel()
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, NewTransportError("resolve", err)
	}
	if len(addrs) == 0 {
		return nil, NewTransportError("resolve", &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true})
	}

	var (
		d    net.Dialer
		errs error
	)
	for _, addr := range addrs {
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(addr.IP.String(), strconv.Itoa(port)))
		if err == nil {
			return conn, nil
		}
		errs = multierr.Append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, NewTransportError("dial", errs)
}
