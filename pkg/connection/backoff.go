package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Retry constants for client connection attempts.
const (
	// MaxRetries is the default number of connection attempts.
	MaxRetries = 5

	// RetryDelay is the default fixed delay between attempts.
	RetryDelay = 3 * time.Second
)

// RetryState counts the attempts of one connection request.
type RetryState struct {
	Attempts    int
	MaxAttempts int
}

// Exhausted reports whether no attempt remains.
func (r RetryState) Exhausted() bool {
	return r.Attempts >= r.MaxAttempts
}

// Remaining returns the number of attempts left.
func (r RetryState) Remaining() int {
	if r.Exhausted() {
		return 0
	}
	return r.MaxAttempts - r.Attempts
}

// DelayPolicy yields the wait before each retry.
type DelayPolicy interface {
	// Next returns the delay before the next attempt and advances the policy.
	Next() time.Duration

	// Reset returns the policy to its initial delay.
	Reset()
}

// FixedDelay waits the same duration before every retry.
type FixedDelay time.Duration

// Next returns the fixed delay.
func (d FixedDelay) Next() time.Duration { return time.Duration(d) }

// Reset is a no-op.
func (FixedDelay) Reset() {}

// Exponential backoff defaults.
const (
	// InitialBackoff is the initial reconnection delay.
	InitialBackoff = 1 * time.Second

	// MaxBackoff is the maximum reconnection delay.
	MaxBackoff = 60 * time.Second

	// BackoffMultiplier is the factor by which backoff increases.
	BackoffMultiplier = 2.0

	// JitterFactor is the maximum jitter as a fraction of base delay.
	JitterFactor = 0.25
)

// Backoff calculates exponential backoff delays with jitter.
// It is an alternative DelayPolicy for deployments where many clients may
// retry against the same host at once.
type Backoff struct {
	mu sync.Mutex

	current time.Duration

	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64

	attempts int

	rng *rand.Rand
}

// BackoffConfig allows customizing backoff parameters.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// NewBackoff creates a backoff calculator with default settings.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{Jitter: JitterFactor})
}

// NewBackoffWithConfig creates a backoff calculator with custom settings.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = InitialBackoff
	}
	if cfg.Max <= 0 {
		cfg.Max = MaxBackoff
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = BackoffMultiplier
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	return &Backoff{
		current:    cfg.Initial,
		initial:    cfg.Initial,
		max:        cfg.Max,
		multiplier: cfg.Multiplier,
		jitter:     cfg.Jitter,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the next backoff delay (with jitter) and advances the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.addJitter(b.current)

	b.attempts++
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return delay
}

// Reset resets the backoff to initial values.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of Next calls since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the current base backoff (without jitter).
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.jitter*b.rng.Float64())
}

// Compile-time interface satisfaction checks.
var (
	_ DelayPolicy = FixedDelay(0)
	_ DelayPolicy = (*Backoff)(nil)
)
