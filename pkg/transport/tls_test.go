package transport

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerlink/peerlink-go/pkg/cert"
	"github.com/peerlink/peerlink-go/pkg/log"
)

func TestMain(m *testing.M) {
	if err := Startup(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// generateTestIdentity creates a self-signed identity valid for localhost.
func generateTestIdentity(t *testing.T) *cert.Identity {
	t.Helper()
	id, err := cert.GenerateSelfSigned("peer.test", time.Hour)
	require.NoError(t, err)
	return id
}

func newTestContext(t *testing.T, role Role, id *cert.Identity, opts ContextOptions) *SecureContext {
	t.Helper()
	sc, err := NewSecureContext(role, id, opts)
	require.NoError(t, err)
	return sc
}

type handshakeResult struct {
	session *Session
	err     error
}

// handshakePair runs a server and client handshake over loopback TCP.
func handshakePair(t *testing.T, server, client *SecureContext) (handshakeResult, handshakeResult) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ln, err := Listen(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverCh := make(chan handshakeResult, 1)
	go func() {
		raw, err := AcceptConn(ctx, ln)
		if err != nil {
			serverCh <- handshakeResult{err: err}
			return
		}
		s, err := Accept(ctx, raw, server)
		serverCh <- handshakeResult{session: s, err: err}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	raw, err := Dial(ctx, "127.0.0.1", port)
	require.NoError(t, err)
	s, err := Connect(ctx, raw, client, "")
	clientRes := handshakeResult{session: s, err: err}

	serverRes := <-serverCh
	for _, r := range []handshakeResult{serverRes, clientRes} {
		if r.session != nil {
			t.Cleanup(func() { r.session.Close() })
		}
	}
	return serverRes, clientRes
}

func TestNewSecureContext(t *testing.T) {
	id := generateTestIdentity(t)

	t.Run("ServerEnforce", func(t *testing.T) {
		sc := newTestContext(t, RoleServer, id, ContextOptions{})
		cfg := sc.Config()

		assert.Equal(t, RoleServer, sc.Role())
		assert.Equal(t, VerifyEnforce, sc.Policy())
		assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
		assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
		assert.Equal(t, []string{ALPNProtocol}, cfg.NextProtos)
		assert.True(t, cfg.SessionTicketsDisabled)
		assert.NotNil(t, cfg.ClientCAs)
		assert.Equal(t, id.Fingerprint(), sc.LocalFingerprint())
	})

	t.Run("ServerAcceptAny", func(t *testing.T) {
		sc := newTestContext(t, RoleServer, id, ContextOptions{Policy: VerifyAcceptAny})
		assert.Equal(t, tls.RequestClientCert, sc.Config().ClientAuth)
	})

	t.Run("ClientEnforce", func(t *testing.T) {
		sc := newTestContext(t, RoleClient, id, ContextOptions{ServerName: "peer.test"})
		cfg := sc.Config()
		assert.False(t, cfg.InsecureSkipVerify)
		assert.Equal(t, "peer.test", cfg.ServerName)
		assert.NotNil(t, cfg.RootCAs)
	})

	t.Run("ClientAcceptAny", func(t *testing.T) {
		sc := newTestContext(t, RoleClient, id, ContextOptions{Policy: VerifyAcceptAny})
		assert.True(t, sc.Config().InsecureSkipVerify)
	})

	t.Run("ConfigIsCopy", func(t *testing.T) {
		sc := newTestContext(t, RoleClient, id, ContextOptions{})
		sc.Config().ServerName = "mutated"
		assert.Empty(t, sc.Config().ServerName)
	})

	t.Run("NoIdentity", func(t *testing.T) {
		_, err := NewSecureContext(RoleServer, nil, ContextOptions{})
		assert.ErrorIs(t, err, ErrNoIdentity)
	})

	t.Run("UnknownPolicy", func(t *testing.T) {
		_, err := NewSecureContext(RoleClient, id, ContextOptions{Policy: VerifyPolicy(9)})
		assert.ErrorIs(t, err, ErrUnknownPolicy)
	})
}

func TestParseVerifyPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    VerifyPolicy
		wantErr bool
	}{
		{"", VerifyEnforce, false},
		{"enforce", VerifyEnforce, false},
		{"ENFORCE", VerifyEnforce, false},
		{"accept-any", VerifyAcceptAny, false},
		{"accept_any", VerifyAcceptAny, false},
		{"trust-me", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseVerifyPolicy(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownPolicy, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	var p VerifyPolicy
	require.NoError(t, p.UnmarshalText([]byte("accept-any")))
	text, err := p.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "accept-any", string(text))
}

func TestCryptoRuntime(t *testing.T) {
	t.Run("Lifecycle", func(t *testing.T) {
		r := &cryptoRuntime{entropy: rand.Reader}
		assert.False(t, r.ready())

		require.NoError(t, r.startup())
		require.NoError(t, r.startup())
		assert.True(t, r.ready())

		r.stop()
		r.stop()
		assert.False(t, r.ready())
		assert.ErrorIs(t, r.startup(), ErrRuntimeShutdown)
	})

	t.Run("ZeroEntropy", func(t *testing.T) {
		r := &cryptoRuntime{entropy: zeroReader{}}
		assert.ErrorIs(t, r.startup(), ErrEntropySelfTest)
		assert.False(t, r.ready())
	})

	t.Run("FailingEntropy", func(t *testing.T) {
		r := &cryptoRuntime{entropy: io.LimitReader(rand.Reader, 8)}
		assert.ErrorIs(t, r.startup(), ErrEntropySelfTest)
	})

	t.Run("ContextRequiresRuntime", func(t *testing.T) {
		saved := defaultRuntime
		defaultRuntime = &cryptoRuntime{entropy: rand.Reader}
		defer func() { defaultRuntime = saved }()

		_, err := NewSecureContext(RoleServer, generateTestIdentity(t), ContextOptions{})
		assert.ErrorIs(t, err, ErrRuntimeNotStarted)
	})
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func TestHandshake(t *testing.T) {
	t.Run("AcceptAnyWithDistinctIdentities", func(t *testing.T) {
		server := newTestContext(t, RoleServer, generateTestIdentity(t), ContextOptions{Policy: VerifyAcceptAny})
		client := newTestContext(t, RoleClient, generateTestIdentity(t), ContextOptions{Policy: VerifyAcceptAny})

		s, c := handshakePair(t, server, client)
		require.NoError(t, s.err)
		require.NoError(t, c.err)

		assert.Equal(t, RoleServer, s.session.Role())
		assert.Equal(t, RoleClient, c.session.Role())
		assert.Equal(t, ALPNProtocol, c.session.TLSState().NegotiatedProtocol)
		assert.Equal(t, uint16(tls.VersionTLS13), c.session.TLSState().Version)
		assert.Equal(t, server.LocalFingerprint(), c.session.PeerFingerprint())
		assert.Equal(t, client.LocalFingerprint(), s.session.PeerFingerprint())
		assert.NotEqual(t, s.session.ID(), c.session.ID())
	})

	t.Run("EnforceWithSharedIdentity", func(t *testing.T) {
		id := generateTestIdentity(t)
		server := newTestContext(t, RoleServer, id, ContextOptions{})
		client := newTestContext(t, RoleClient, id, ContextOptions{})

		s, c := handshakePair(t, server, client)
		require.NoError(t, s.err)
		require.NoError(t, c.err)
	})

	t.Run("EnforceRejectsUntrustedHost", func(t *testing.T) {
		logger := &capturingLogger{}
		server := newTestContext(t, RoleServer, generateTestIdentity(t), ContextOptions{Policy: VerifyAcceptAny})
		client := newTestContext(t, RoleClient, generateTestIdentity(t), ContextOptions{Logger: logger})

		s, c := handshakePair(t, server, client)
		require.Error(t, c.err)
		require.Error(t, s.err)

		var herr *HandshakeError
		require.True(t, errors.As(c.err, &herr))
		assert.Equal(t, RoleClient, herr.Role)

		require.True(t, errors.As(s.err, &herr))
		assert.Equal(t, RoleServer, herr.Role)

		events := logger.Events()
		require.NotEmpty(t, events)
		assert.Equal(t, log.CategoryError, events[0].Category)
		assert.Equal(t, "handshake", events[0].Error.Context)
	})

	t.Run("RoleMismatchLeavesSocketOpen", func(t *testing.T) {
		server := newTestContext(t, RoleServer, generateTestIdentity(t), ContextOptions{})
		a, b := net.Pipe()
		defer a.Close()
		defer b.Close()

		_, err := Connect(context.Background(), a, server, "")
		assert.ErrorIs(t, err, ErrRoleMismatch)

		go a.Write([]byte{1})
		buf := make([]byte, 1)
		_, err = b.Read(buf)
		assert.NoError(t, err)
	})

	t.Run("NilContext", func(t *testing.T) {
		a, b := net.Pipe()
		defer a.Close()
		defer b.Close()
		_, err := Accept(context.Background(), a, nil)
		assert.ErrorIs(t, err, ErrNoSecureContext)
	})
}

func TestHandshakeErrorCode(t *testing.T) {
	herr := newHandshakeError(RoleServer, &net.OpError{Op: "remote error", Err: tls.AlertError(42)})
	assert.Equal(t, 42, herr.Code)
	assert.Contains(t, herr.Error(), "alert 42")

	herr = newHandshakeError(RoleClient, errors.New("boom"))
	assert.Equal(t, NoAlert, herr.Code)
	assert.Equal(t, "client handshake failed: boom", herr.Error())
}

func TestVerifyALPN(t *testing.T) {
	for proto, ok := range map[string]bool{
		"":           true,
		ALPNProtocol: true,
		"peerlink/2": false,
		"h2":         false,
	} {
		err := VerifyALPN(tls.ConnectionState{NegotiatedProtocol: proto})
		if ok {
			assert.NoError(t, err, proto)
		} else {
			assert.ErrorIs(t, err, ErrALPNMismatch, proto)
		}
	}
}

func TestDialErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ln, err := Listen(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = Dial(ctx, "127.0.0.1", port)
	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "dial", terr.Op)

	_, err = Dial(ctx, "host.invalid", port)
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "resolve", terr.Op)
}

func TestAcceptConnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ln, err := Listen(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := AcceptConn(ctx, ln)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("AcceptConn ignored cancellation")
	}
}
