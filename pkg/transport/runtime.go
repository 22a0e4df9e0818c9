package transport

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Crypto runtime errors.
var (
	ErrRuntimeNotStarted = errors.New("crypto runtime not started")
	ErrRuntimeShutdown   = errors.New("crypto runtime shut down")
	ErrEntropySelfTest   = errors.New("entropy self-test failed")
)

// selfTestSize is the number of random bytes drawn by the entropy self-test.
const selfTestSize = 32

// cryptoRuntime is the process-wide crypto lifecycle.
// Startup and Shutdown each take effect at most once.
type cryptoRuntime struct {
	mu       sync.Mutex
	started  bool
	shutdown bool
	entropy  io.Reader
}

var defaultRuntime = &cryptoRuntime{entropy: rand.Reader}

// Startup initializes the crypto runtime. It must run before any
// SecureContext is built. Repeated calls are no-ops.
func Startup() error {
	return defaultRuntime.startup()
}

// Shutdown tears down the crypto runtime. After it no new SecureContext can
// be built; existing sessions are unaffected. Repeated calls are no-ops.
func Shutdown() {
	defaultRuntime.stop()
}

// RuntimeStarted reports whether Startup succeeded and Shutdown has not run.
func RuntimeStarted() bool {
	return defaultRuntime.ready()
}

func (r *cryptoRuntime) startup() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdown {
		return ErrRuntimeShutdown
	}
	if r.started {
		return nil
	}

	if err := entropySelfTest(r.entropy); err != nil {
		return err
	}
	r.started = true
	return nil
}

func (r *cryptoRuntime) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdown = true
}

func (r *cryptoRuntime) ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started && !r.shutdown
}

// entropySelfTest draws two blocks from src. A read error, an all-zero block
// or a repeated block fails the test.
func entropySelfTest(src io.Reader) error {
	var a, b [selfTestSize]byte
	if _, err := io.ReadFull(src, a[:]); err != nil {
		return fmt.Errorf("%w: %w", ErrEntropySelfTest, err)
	}
	if _, err := io.ReadFull(src, b[:]); err != nil {
		return fmt.Errorf("%w: %w", ErrEntropySelfTest, err)
	}

	var zero [selfTestSize]byte
	if a == zero || bytes.Equal(a[:], b[:]) {
		return fmt.Errorf("%w: source is not random", ErrEntropySelfTest)
	}
	return nil
}
