package peer

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/peerlink/peerlink-go/pkg/connection"
	"github.com/peerlink/peerlink-go/pkg/transport"
)

// HandshakeTimeout bounds the host side of a single handshake.
const HandshakeTimeout = 10 * time.Second

// Host listens for a client, establishes a secure session and reads from it
// until the session ends.
type Host struct {
	cfg    Config
	sc     *transport.SecureContext
	board  *connection.StatusBoard
	logger *slog.Logger

	mu        sync.Mutex
	addr      net.Addr
	onPayload func(p []byte)

	listening     chan struct{}
	listeningOnce sync.Once
}

// NewHost creates a host. sc must be a server context.
func NewHost(cfg Config, sc *transport.SecureContext, board *connection.StatusBoard, logger *slog.Logger) *Host {
	if board == nil {
		board = connection.NewStatusBoard()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		cfg:       cfg,
		sc:        sc,
		board:     board,
		logger:    logger.With("role", RoleHost),
		listening: make(chan struct{}),
	}
}

// OnPayload sets a callback for each byte run (or frame) received.
// It runs on the reactor goroutine.
func (h *Host) OnPayload(fn func(p []byte)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPayload = fn
}

// Addr returns the bound listen address, or nil before Serve listens.
func (h *Host) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

// Listening returns a channel closed once the listener is bound and the
// Listening status is published.
func (h *Host) Listening() <-chan struct{} {
	return h.listening
}

// Serve listens on the configured port and serves one client, or clients in
// sequence when Reaccept is set. It returns when the session ends, when a
// handshake fails without Reaccept, or when ctx is cancelled.
func (h *Host) Serve(ctx context.Context) error {
	ln, err := transport.Listen(ctx, h.cfg.ListenAddress())
	if err != nil {
		h.logger.Error("listen failed", "addr", h.cfg.ListenAddress(), "error", err)
		h.board.Set(connection.Failed(err.Error()))
		return err
	}
	defer ln.Close()

	h.mu.Lock()
	h.addr = ln.Addr()
	h.mu.Unlock()

	for {
		h.board.Set(connection.Listening())
		h.logger.Info("listening", "addr", ln.Addr().String())
		h.listeningOnce.Do(func() { close(h.listening) })

		err := h.serveOne(ctx, ln)
		if ctx.Err() != nil {
			h.board.Set(connection.NotConnected())
			return ctx.Err()
		}

		var terr *transport.TransportError
		if errors.As(err, &terr) && terr.Op == "accept" {
			h.board.Set(connection.Failed(err.Error()))
			return err
		}
		if !h.cfg.Reaccept {
			return err
		}
	}
}

// serveOne accepts, handshakes and reads one client on a single reactor.
// Each step is submitted from the completion of the one before.
func (h *Host) serveOne(ctx context.Context, ln net.Listener) error {
	reactor := transport.NewReactor()
	defer reactor.Close()

	var (
		stepErr error
		session *transport.Session
		loop    *transport.ReadLoop
	)
	stop := func() bool { return false }
	defer func() { stop() }()

	onSession := func(remote string, s *transport.Session, err error) {
		if err != nil {
			h.logger.Warn("handshake failed", "remote", remote, "error", err)
			h.board.Set(connection.NotConnected())
			stepErr = err
			return
		}
		session = s

		h.board.Set(connection.ConnectedSecurely())
		h.logger.Info("connected securely",
			"remote", s.RemoteAddr().String(),
			"session", s.ID(),
			"peer", s.PeerFingerprint())

		loop = h.newReadLoop(reactor, s)
		if err := loop.Start(); err != nil {
			s.Close()
			stepErr = err
			return
		}
		stop = context.AfterFunc(ctx, func() { s.Close() })
	}

	onConn := func(raw net.Conn, err error) {
		if err != nil {
			if ctx.Err() == nil {
				h.logger.Error("accept failed", "error", err)
			}
			stepErr = err
			return
		}
		remote := raw.RemoteAddr().String()
		h.logger.Debug("accepted connection", "remote", remote)

		hsCtx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
		err = transport.SubmitAccept(hsCtx, reactor, raw, h.sc, func(s *transport.Session, err error) {
			cancel()
			onSession(remote, s, err)
		})
		if err != nil {
			cancel()
			raw.Close()
			stepErr = err
		}
	}

	if err := transport.SubmitAcceptConn(ctx, reactor, ln, onConn); err != nil {
		return err
	}

	// Every submitted step honours ctx, so the reactor drains on its own.
	if err := reactor.Run(context.Background()); err != nil {
		return err
	}
	if session != nil {
		h.board.Set(connection.NotConnected())
	}
	if stepErr != nil || loop == nil {
		return stepErr
	}
	return loop.Err()
}

// newReadLoop builds the read loop for session on reactor.
func (h *Host) newReadLoop(reactor *transport.Reactor, session *transport.Session) *transport.ReadLoop {
	var opts []transport.ReadLoopOption
	if h.cfg.Framed {
		opts = append(opts, transport.WithFraming())
	}
	loop := transport.NewReadLoop(reactor, session, h.deliver, opts...)
	loop.OnFinish(func(state transport.ReadState, err error) {
		if err != nil {
			h.logger.Warn("read loop ended", "state", state.String(), "error", err)
			return
		}
		h.logger.Info("client disconnected", "state", state.String())
	})
	return loop
}

func (h *Host) deliver(p []byte) {
	h.logger.Info("received", "bytes", len(p), "data", string(p))

	h.mu.Lock()
	fn := h.onPayload
	h.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}
