package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerlink/peerlink-go/pkg/cert"
	plog "github.com/peerlink/peerlink-go/pkg/log"
	"github.com/peerlink/peerlink-go/pkg/peer"
	"github.com/peerlink/peerlink-go/pkg/transport"
)

func TestParseFlags(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		o, err := parseFlags(nil)
		require.NoError(t, err)
		cfg, err := o.config()
		require.NoError(t, err)
		assert.Equal(t, peer.DefaultConfig(), cfg)
		assert.Equal(t, slog.LevelInfo, o.logLevel)
		assert.False(t, o.interactive)
	})

	t.Run("Overrides", func(t *testing.T) {
		o, err := parseFlags([]string{
			"-role", "client", "-ip", "10.1.2.3", "-port", "4000",
			"-verify", "accept-any", "-framed", "-backoff", "-payload", "hi",
			"-log-level", "debug", "-interactive",
			"-server-name", "host.lan", "-san", "host.lan, 10.9.8.7,,",
		})
		require.NoError(t, err)
		cfg, err := o.config()
		require.NoError(t, err)

		assert.Equal(t, peer.RoleClient, cfg.Role)
		assert.Equal(t, "10.1.2.3:4000", cfg.PeerAddress())
		assert.Equal(t, transport.VerifyAcceptAny, cfg.Verify)
		assert.True(t, cfg.Framed)
		assert.True(t, cfg.Backoff)
		assert.Equal(t, "hi", cfg.Payload)
		assert.Equal(t, slog.LevelDebug, o.logLevel)
		assert.True(t, o.interactive)
		assert.Equal(t, "host.lan", cfg.ServerName)
		assert.Equal(t, []string{"host.lan", "10.9.8.7"}, o.sans)
	})

	t.Run("FlagsOverrideFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "peer.yaml")
		require.NoError(t, os.WriteFile(path, []byte("role: client\nport: 2000\npeer_ip: 10.0.0.1\n"), 0o600))

		o, err := parseFlags([]string{"-config", path, "-port", "3000"})
		require.NoError(t, err)
		cfg, err := o.config()
		require.NoError(t, err)

		assert.Equal(t, peer.RoleClient, cfg.Role)
		assert.Equal(t, "10.0.0.1", cfg.PeerIP)
		assert.Equal(t, 3000, cfg.Port)
	})

	for _, args := range [][]string{
		{"-role", "spectator"},
		{"-verify", "maybe"},
		{"-log-level", "loud"},
		{"extra"},
	} {
		_, err := parseFlags(args)
		assert.Error(t, err, args)
	}

	o, err := parseFlags([]string{"-port", "0"})
	require.NoError(t, err)
	_, err = o.config()
	assert.ErrorIs(t, err, peer.ErrInvalidConfig)
}

func TestGenerateIdentity(t *testing.T) {
	dir := t.TempDir()
	cfg := peer.DefaultConfig()
	cfg.CertFile = filepath.Join(dir, "a.crt")
	cfg.KeyFile = filepath.Join(dir, "a.key")

	require.NoError(t, generateIdentity(cfg, []string{"host.lan", "10.9.8.7"}))
	id, err := cert.LoadIdentity(cfg.CertFile, cfg.KeyFile)
	require.NoError(t, err)
	assert.True(t, id.Certificate.NotAfter.After(time.Now().Add(300*24*time.Hour)))

	// A client dialing any local address or extra name verifies.
	names := append([]string{"localhost", "127.0.0.1", "::1", "host.lan", "10.9.8.7"}, interfaceAddrs()...)
	for _, name := range names {
		assert.NoError(t, id.Certificate.VerifyHostname(name), name)
	}
	assert.Error(t, id.Certificate.VerifyHostname("other.lan"))
}

func TestProtocolLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(slog.LevelDebug, &buf)

	l, closeLog, err := newProtocolLogger("", plog.RoleUnknown, logger)
	require.NoError(t, err)
	l.Log(plog.Event{Timestamp: time.Now(), Layer: plog.LayerConnection, Category: plog.CategoryState,
		StateChange: &plog.StateChangeEvent{NewState: "Listening"}})
	closeLog()
	assert.Contains(t, buf.String(), "Listening")

	path := filepath.Join(t.TempDir(), "peer")
	l, closeLog, err = newProtocolLogger(path, plog.RoleHost, logger)
	require.NoError(t, err)
	l.Log(plog.Event{Timestamp: time.Now(), Layer: plog.LayerTransport, Category: plog.CategoryData,
		Data: plog.NewDataEvent([]byte("abc"))})
	closeLog()

	r, err := plog.NewReader(path + plog.TraceExt)
	require.NoError(t, err)
	defer r.Close()
	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), ev.Data.Data)
	assert.Equal(t, plog.RoleHost, ev.LocalRole)
}

func TestRunMissingIdentity(t *testing.T) {
	dir := t.TempDir()
	o, err := parseFlags([]string{
		"-cert", filepath.Join(dir, "none.crt"),
		"-key", filepath.Join(dir, "none.key"),
		"-log-level", "error",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, run(o))
}

func TestRunVersion(t *testing.T) {
	o, err := parseFlags([]string{"-version"})
	require.NoError(t, err)
	assert.True(t, o.showVersion)
	assert.Equal(t, 0, run(o))
}
