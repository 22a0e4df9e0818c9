package peer

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/peerlink/peerlink-go/pkg/connection"
	"github.com/peerlink/peerlink-go/pkg/transport"
)

// Client connects to a host with retries and sends the configured payload
// once the session is up.
type Client struct {
	cfg    Config
	sc     *transport.SecureContext
	board  *connection.StatusBoard
	logger *slog.Logger
	opts   []connection.Option

	mu       sync.Mutex
	session  *transport.Session
	writeErr error
}

// NewClient creates a client. sc must be a client context. opts are passed
// to the reconnection controller after the configured budget and delay.
func NewClient(cfg Config, sc *transport.SecureContext, board *connection.StatusBoard, logger *slog.Logger, opts ...connection.Option) *Client {
	if board == nil {
		board = connection.NewStatusBoard()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		sc:     sc,
		board:  board,
		logger: logger.With("role", RoleClient),
		opts:   opts,
	}
}

// Run performs the connect sequence and, on success, writes the payload.
// A write failure is logged and recorded but does not fail Run. The session
// stays open until Close.
func (c *Client) Run(ctx context.Context) error {
	reactor := transport.NewReactor()
	defer reactor.Close()

	attempt := func(ctx context.Context) error { return c.attempt(ctx, reactor) }
	ctrl := connection.NewController(attempt, c.board, c.controllerOptions()...)
	ctrl.OnAttemptFailed(func(attempt int, err error) {
		c.logger.Warn("connect attempt failed",
			"attempt", attempt,
			"max", c.cfg.MaxAttempts,
			"peer", c.cfg.PeerAddress(),
			"error", err)
	})

	if err := ctrl.Run(ctx); err != nil {
		c.logger.Error("connect sequence ended", "peer", c.cfg.PeerAddress(), "error", err)
		return err
	}

	session := c.Session()
	c.logger.Info("connected securely",
		"peer", c.cfg.PeerAddress(),
		"session", session.ID(),
		"host", session.PeerFingerprint())

	return c.send(ctx, reactor, session)
}

func (c *Client) controllerOptions() []connection.Option {
	opts := []connection.Option{
		connection.WithMaxAttempts(c.cfg.MaxAttempts),
		connection.WithDelay(c.cfg.RetryDelay),
		connection.WithLogger(c.logger),
	}
	if c.cfg.Backoff {
		opts = append(opts, connection.WithDelayPolicy(connection.NewBackoffWithConfig(connection.BackoffConfig{
			Initial: c.cfg.RetryDelay,
			Jitter:  connection.JitterFactor,
		})))
	}
	return append(opts, c.opts...)
}

// attempt resolves, dials and handshakes once on reactor. The host is
// verified against the configured peer address.
func (c *Client) attempt(ctx context.Context, reactor *transport.Reactor) error {
	var session *transport.Session
	var stepErr error

	err := transport.SubmitDial(ctx, reactor, c.cfg.PeerIP, c.cfg.Port, func(raw net.Conn, err error) {
		if err != nil {
			stepErr = err
			return
		}
		err = transport.SubmitConnect(ctx, reactor, raw, c.sc, c.cfg.PeerIP, func(s *transport.Session, err error) {
			session, stepErr = s, err
		})
		if err != nil {
			raw.Close()
			stepErr = err
		}
	})
	if err != nil {
		return err
	}
	if err := reactor.Run(context.Background()); err != nil {
		return err
	}
	if stepErr != nil {
		return stepErr
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	return nil
}

// send drives a single fire-and-forget write to completion on reactor.
func (c *Client) send(ctx context.Context, reactor *transport.Reactor, session *transport.Session) error {
	payload := []byte(c.cfg.Payload)
	write := transport.WriteOnce
	if c.cfg.Framed {
		write = transport.WriteFrameOnce
	}

	err := write(reactor, session, payload, func(err error) {
		c.mu.Lock()
		c.writeErr = err
		c.mu.Unlock()
		if err != nil {
			c.logger.Error("payload write failed", "session", session.ID(), "error", err)
			return
		}
		c.logger.Info("payload sent", "bytes", len(payload), "session", session.ID())
	})
	if err != nil {
		return err
	}
	return reactor.Run(ctx)
}

// Session returns the established session, or nil.
func (c *Client) Session() *transport.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// WriteErr returns the result of the payload write.
func (c *Client) WriteErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeErr
}

// Close closes the session, if any, and publishes NotConnected.
func (c *Client) Close() error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	if session == nil {
		return nil
	}
	err := session.Close()
	c.board.Set(connection.NotConnected())
	return err
}
