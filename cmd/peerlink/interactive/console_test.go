package interactive

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerlink/peerlink-go/pkg/cert"
	"github.com/peerlink/peerlink-go/pkg/peer"
	"github.com/peerlink/peerlink-go/pkg/transport"
)

func TestMain(m *testing.M) {
	if err := transport.Startup(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// syncBuffer is a bytes.Buffer safe for the status watcher goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConsole(t *testing.T, cfg peer.Config) (*Console, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	runner := peer.NewRunner(cfg, nil, slog.New(slog.DiscardHandler), nil)
	t.Cleanup(func() { runner.Close() })
	return newConsole(out, runner), out
}

func unreachableConfig(t *testing.T) peer.Config {
	t.Helper()
	dir := t.TempDir()
	id, err := cert.GenerateSelfSigned("peer.test", time.Hour)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := peer.DefaultConfig()
	cfg.CertFile = filepath.Join(dir, "peer.crt")
	cfg.KeyFile = filepath.Join(dir, "peer.key")
	cfg.Port = port
	cfg.MaxAttempts = 2
	cfg.RetryDelay = time.Millisecond
	require.NoError(t, cert.WriteIdentity(id, cfg.CertFile, cfg.KeyFile))
	return cfg
}

func TestConsoleCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("Help", func(t *testing.T) {
		c, out := testConsole(t, peer.DefaultConfig())
		assert.False(t, c.execute(ctx, "help"))
		assert.Contains(t, out.String(), "connect")
		assert.Contains(t, out.String(), "ip <address>")
	})

	t.Run("BlankLine", func(t *testing.T) {
		c, out := testConsole(t, peer.DefaultConfig())
		assert.False(t, c.execute(ctx, "   "))
		assert.Empty(t, out.String())
	})

	t.Run("Unknown", func(t *testing.T) {
		c, out := testConsole(t, peer.DefaultConfig())
		assert.False(t, c.execute(ctx, "teleport"))
		assert.Contains(t, out.String(), "Unknown command: teleport")
	})

	t.Run("Quit", func(t *testing.T) {
		c, _ := testConsole(t, peer.DefaultConfig())
		assert.True(t, c.execute(ctx, "quit"))
		assert.True(t, c.execute(ctx, "Q"))
	})

	t.Run("Status", func(t *testing.T) {
		c, out := testConsole(t, peer.DefaultConfig())
		c.execute(ctx, "status")
		assert.Contains(t, out.String(), "Not connected")
		assert.Contains(t, out.String(), "127.0.0.1:12345")
		assert.Contains(t, out.String(), "enforce")
	})
}

func TestConsoleIP(t *testing.T) {
	ctx := context.Background()
	c, out := testConsole(t, peer.DefaultConfig())

	c.execute(ctx, "ip 192.168.1.20")
	assert.Equal(t, "192.168.1.20", c.runner.Config().PeerIP)

	c.execute(ctx, "ip peer-host.lan")
	assert.Equal(t, "peer-host.lan", c.runner.Config().PeerIP)

	c.execute(ctx, "ip not_a/host")
	assert.Contains(t, out.String(), "Invalid address")
	assert.Equal(t, "peer-host.lan", c.runner.Config().PeerIP)

	c.execute(ctx, "ip")
	assert.Contains(t, out.String(), "Usage: ip <address>")
}

func TestConsoleConnectFails(t *testing.T) {
	c, out := testConsole(t, unreachableConfig(t))

	assert.False(t, c.execute(context.Background(), "connect"))
	assert.Contains(t, out.String(), "Error:")
	assert.Contains(t, out.String(), "Status: Failed: exceeded max attempts")
}

func TestConsoleMissingIdentity(t *testing.T) {
	cfg := peer.DefaultConfig()
	cfg.CertFile = filepath.Join(t.TempDir(), "missing.crt")
	cfg.KeyFile = filepath.Join(t.TempDir(), "missing.key")
	c, out := testConsole(t, cfg)

	c.execute(context.Background(), "host")
	assert.Contains(t, out.String(), "Error:")
	assert.Contains(t, out.String(), "Status: Failed:")
}

func TestConsoleHostInterrupted(t *testing.T) {
	cfg := unreachableConfig(t)
	cfg.Port = 0
	c, out := testConsole(t, cfg)

	c.interrupt = func(ctx context.Context) (context.Context, context.CancelFunc) {
		ctx, cancel := context.WithCancel(ctx)
		go func() {
			deadline := time.Now().Add(5 * time.Second)
			for c.runner.Board().Get().String() != "Listening" && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			cancel()
		}()
		return ctx, cancel
	}

	c.execute(context.Background(), "host")
	assert.Contains(t, out.String(), "Stopped")
	assert.Contains(t, out.String(), "Status: Not connected")
}

func TestValidHostname(t *testing.T) {
	for _, s := range []string{"localhost", "a.b-c.example", "x1"} {
		assert.True(t, validHostname(s), s)
	}
	for _, s := range []string{"", "a..b", "under_score", "a b"} {
		assert.False(t, validHostname(s), s)
	}
}
