package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
)

// Controller errors.
var (
	ErrAttemptsExhausted = errors.New("exceeded max attempts")
	ErrAlreadyRunning    = errors.New("attempt sequence already running")
)

// State represents the controller state.
type State uint8

const (
	// StateIdle indicates no attempt sequence is running.
	StateIdle State = iota

	// StateAttempting indicates a connection attempt is in progress.
	StateAttempting

	// StateDelaying indicates the controller is waiting before the next attempt.
	StateDelaying

	// StateConnected indicates the last sequence produced a session.
	StateConnected

	// StateFailed indicates the last sequence spent its attempt budget.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAttempting:
		return "ATTEMPTING"
	case StateDelaying:
		return "DELAYING"
	case StateConnected:
		return "CONNECTED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// AttemptFunc makes one connection attempt.
// It returns nil once a secure session is established.
type AttemptFunc func(ctx context.Context) error

// Option configures a Controller.
type Option func(*Controller)

// WithMaxAttempts sets the attempt budget. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(c *Controller) {
		if n >= 1 {
			c.maxAttempts = n
		}
	}
}

// WithDelay sets a fixed delay between attempts.
func WithDelay(d time.Duration) Option {
	return WithDelayPolicy(FixedDelay(d))
}

// WithDelayPolicy sets the policy that yields the delay between attempts.
func WithDelayPolicy(p DelayPolicy) Option {
	return func(c *Controller) {
		if p != nil {
			c.delay = p
		}
	}
}

// WithClock sets the clock used for delays.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// Controller runs bounded connection attempt sequences and publishes their
// progress to a StatusBoard.
//
// A sequence publishes "Searching for server", then after each failed attempt
// k < N publishes "Retrying (k/N)" and waits. It ends with either
// "Connected securely" or "Failed: exceeded max attempts", exactly once.
type Controller struct {
	mu sync.Mutex

	state   State
	retry   RetryState
	running bool

	attempt     AttemptFunc
	board       *StatusBoard
	maxAttempts int
	delay       DelayPolicy
	clock       clock.Clock
	logger      *slog.Logger

	onStateChange   func(oldState, newState State)
	onAttemptFailed func(attempt int, err error)
}

// NewController creates a controller that calls attempt up to MaxRetries
// times with RetryDelay between attempts.
func NewController(attempt AttemptFunc, board *StatusBoard, opts ...Option) *Controller {
	c := &Controller{
		state:       StateIdle,
		attempt:     attempt,
		board:       board,
		maxAttempts: MaxRetries,
		delay:       FixedDelay(RetryDelay),
		clock:       clock.New(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.board == nil {
		c.board = NewStatusBoard()
	}
	return c
}

// State returns the current controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RetryState returns the attempt counters of the current or last sequence.
func (c *Controller) RetryState() RetryState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retry
}

// Board returns the status board the controller publishes to.
func (c *Controller) Board() *StatusBoard {
	return c.board
}

// Run executes one attempt sequence and blocks until it ends.
//
// It returns nil when an attempt succeeds, an error wrapping
// ErrAttemptsExhausted and every attempt error when the budget is spent, or
// the context error if ctx is cancelled. Only one sequence may run at a time.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.retry = RetryState{MaxAttempts: c.maxAttempts}
	c.delay.Reset()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	c.board.Set(SearchingForServer())

	var errs error
	for {
		n := c.beginAttempt()
		c.logger.Debug("connection attempt", "attempt", n, "max", c.maxAttempts)

		err := c.attempt(ctx)
		if err == nil {
			c.setState(StateConnected)
			c.board.Set(ConnectedSecurely())
			c.logger.Info("connected", "attempt", n)
			return nil
		}

		errs = multierr.Append(errs, fmt.Errorf("attempt %d: %w", n, err))
		c.logger.Warn("connection attempt failed", "attempt", n, "max", c.maxAttempts, "error", err)
		c.notifyAttemptFailed(n, err)

		if ctx.Err() != nil {
			return c.cancelled(ctx)
		}

		if n >= c.maxAttempts {
			c.setState(StateFailed)
			c.board.Set(Failed(ReasonExceededMaxAttempts))
			c.logger.Error("giving up", "attempts", n)
			return fmt.Errorf("%w: %w", ErrAttemptsExhausted, errs)
		}

		// Timer is armed before Retrying is published.
		timer := c.clock.Timer(c.delay.Next())
		c.setState(StateDelaying)
		c.board.Set(Retrying(n, c.maxAttempts))

		select {
		case <-ctx.Done():
			timer.Stop()
			return c.cancelled(ctx)
		case <-timer.C:
		}
	}
}

func (c *Controller) beginAttempt() int {
	c.mu.Lock()
	c.retry.Attempts++
	n := c.retry.Attempts
	c.mu.Unlock()

	c.setState(StateAttempting)
	return n
}

func (c *Controller) cancelled(ctx context.Context) error {
	c.setState(StateIdle)
	c.board.Set(NotConnected())
	c.logger.Info("connection attempts cancelled")
	return ctx.Err()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	old := c.state
	c.state = s
	fn := c.onStateChange
	c.mu.Unlock()

	if fn != nil && old != s {
		fn(old, s)
	}
}

func (c *Controller) notifyAttemptFailed(n int, err error) {
	c.mu.Lock()
	fn := c.onAttemptFailed
	c.mu.Unlock()

	if fn != nil {
		fn(n, err)
	}
}

// OnStateChange sets a callback for controller state changes.
func (c *Controller) OnStateChange(fn func(oldState, newState State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = fn
}

// OnAttemptFailed sets a callback invoked after each failed attempt.
func (c *Controller) OnAttemptFailed(fn func(attempt int, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAttemptFailed = fn
}
