package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/peerlink/peerlink-go/pkg/connection"
	"github.com/peerlink/peerlink-go/pkg/log"
	"github.com/peerlink/peerlink-go/pkg/transport"
)

// ErrSequenceActive is returned by Start while another sequence runs.
var ErrSequenceActive = errors.New("connection sequence already active")

// Runner starts host or client sequences on a worker goroutine and waits
// for them. Only one sequence runs at a time.
type Runner struct {
	board  *connection.StatusBoard
	logger *slog.Logger
	plog   log.Logger
	opts   []connection.Option

	mu        sync.Mutex
	cfg       Config
	active    bool
	contexts  map[transport.Role]*transport.SecureContext
	client    *Client
	onPayload func([]byte)
}

// NewRunner creates a runner. plog receives protocol events and may be nil.
// opts are applied to every client reconnection controller.
func NewRunner(cfg Config, board *connection.StatusBoard, logger *slog.Logger, plog log.Logger, opts ...connection.Option) *Runner {
	if board == nil {
		board = connection.NewStatusBoard()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:      cfg,
		board:    board,
		logger:   logger,
		plog:     log.OrNoop(plog),
		opts:     opts,
		contexts: make(map[transport.Role]*transport.SecureContext),
	}
}

// Board returns the status board the runner publishes to.
func (r *Runner) Board() *connection.StatusBoard {
	return r.board
}

// Config returns a copy of the current configuration.
func (r *Runner) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// SetPeerIP changes the host address used by later client sequences.
func (r *Runner) SetPeerIP(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.PeerIP = ip
}

// OnPayload sets the consumer for data received by later host sequences.
func (r *Runner) OnPayload(fn func([]byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPayload = fn
}

// Prepare builds the secure context for role ahead of the first sequence.
// It fails with the identity error when the local identity cannot be loaded.
func (r *Runner) Prepare(role Role) error {
	_, err := r.secureContext(role)
	return err
}

// Start runs one sequence for role on a worker goroutine and blocks until it
// finishes. The final status is on the board. An open client session from a
// previous sequence is closed first.
func (r *Runner) Start(ctx context.Context, role Role) error {
	if role != RoleHost && role != RoleClient {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidConfig, role)
	}

	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return ErrSequenceActive
	}
	r.active = true
	cfg := r.cfg
	prev := r.client
	r.client = nil
	onPayload := r.onPayload
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.active = false
		r.mu.Unlock()
	}()

	if prev != nil {
		if err := prev.Close(); err != nil {
			r.logger.Debug("closing previous session", "error", err)
		}
	}

	r.board.SetProtocolLogger(r.plog, role.LogRole())

	sc, err := r.secureContext(role)
	if err != nil {
		r.logger.Error("secure context unavailable", "role", role, "error", err)
		r.board.Set(connection.Failed(err.Error()))
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	switch role {
	case RoleHost:
		host := NewHost(cfg, sc, r.board, r.logger)
		host.OnPayload(onPayload)
		g.Go(func() error { return host.Serve(gctx) })
	case RoleClient:
		client := NewClient(cfg, sc, r.board, r.logger, r.opts...)
		g.Go(func() error {
			err := client.Run(gctx)
			if client.Session() != nil {
				r.mu.Lock()
				r.client = client
				r.mu.Unlock()
			}
			return err
		})
	}
	return g.Wait()
}

// Close closes any open client session.
func (r *Runner) Close() error {
	r.mu.Lock()
	client := r.client
	r.client = nil
	r.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

func (r *Runner) secureContext(role Role) (*transport.SecureContext, error) {
	tr := role.TransportRole()

	r.mu.Lock()
	sc, ok := r.contexts[tr]
	cfg := r.cfg
	r.mu.Unlock()
	if ok {
		return sc, nil
	}

	sc, err := cfg.SecureContext(tr, r.plog)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.contexts[tr] = sc
	r.mu.Unlock()
	return sc, nil
}
