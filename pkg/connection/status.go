package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/peerlink/peerlink-go/pkg/log"
)

// StatusKind discriminates the connection status variants.
type StatusKind uint8

const (
	// StatusNotConnected indicates no connection and no attempt in progress.
	StatusNotConnected StatusKind = iota

	// StatusListening indicates the host is waiting for a client.
	StatusListening

	// StatusSearching indicates the client is making its first attempt.
	StatusSearching

	// StatusRetrying indicates the client is waiting before another attempt.
	StatusRetrying

	// StatusConnected indicates a secure session is established.
	StatusConnected

	// StatusFailed indicates the attempt sequence ended without a session.
	StatusFailed
)

// String returns a short kind name.
func (k StatusKind) String() string {
	switch k {
	case StatusNotConnected:
		return "NOT_CONNECTED"
	case StatusListening:
		return "LISTENING"
	case StatusSearching:
		return "SEARCHING"
	case StatusRetrying:
		return "RETRYING"
	case StatusConnected:
		return "CONNECTED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ReasonExceededMaxAttempts is the failure reason after the retry budget is spent.
const ReasonExceededMaxAttempts = "exceeded max attempts"

// Status is the connection status shown to the user.
// Attempt and MaxAttempts are set for StatusRetrying, Reason for StatusFailed.
type Status struct {
	Kind        StatusKind
	Attempt     int
	MaxAttempts int
	Reason      string
}

// NotConnected returns the idle status.
func NotConnected() Status { return Status{Kind: StatusNotConnected} }

// Listening returns the host listening status.
func Listening() Status { return Status{Kind: StatusListening} }

// SearchingForServer returns the client first-attempt status.
func SearchingForServer() Status { return Status{Kind: StatusSearching} }

// Retrying returns the status published while waiting after failed attempt n of max.
func Retrying(attempt, max int) Status {
	return Status{Kind: StatusRetrying, Attempt: attempt, MaxAttempts: max}
}

// ConnectedSecurely returns the established status.
func ConnectedSecurely() Status { return Status{Kind: StatusConnected} }

// Failed returns the terminal failure status.
func Failed(reason string) Status { return Status{Kind: StatusFailed, Reason: reason} }

// String returns the human-readable status.
func (s Status) String() string {
	switch s.Kind {
	case StatusNotConnected:
		return "Not connected"
	case StatusListening:
		return "Listening"
	case StatusSearching:
		return "Searching for server"
	case StatusRetrying:
		return fmt.Sprintf("Retrying (%d/%d)", s.Attempt, s.MaxAttempts)
	case StatusConnected:
		return "Connected securely"
	case StatusFailed:
		return "Failed: " + s.Reason
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s ends a client attempt sequence.
func (s Status) IsTerminal() bool {
	return s.Kind == StatusConnected || s.Kind == StatusFailed
}

// StatusBoard holds the single visible connection status.
//
// Set replaces the value and signals subscribers while holding the lock, so a
// reader never sees a new value paired with a stale notification. The lock is
// never held across I/O. Signals
// carry no value; subscribers call Get. Signals coalesce: a slow subscriber
// sees only the latest status, never a partial one.
type StatusBoard struct {
	mu      sync.Mutex
	status  Status
	version uint64
	subs    map[int]chan struct{}
	nextSub int

	logger log.Logger
	role   log.Role
}

// NewStatusBoard creates a board showing NotConnected.
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{
		status: NotConnected(),
		subs:   make(map[int]chan struct{}),
		logger: log.NoopLogger{},
	}
}

// SetProtocolLogger records every status transition as a state-change event.
func (b *StatusBoard) SetProtocolLogger(logger log.Logger, role log.Role) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = log.OrNoop(logger)
	b.role = role
}

// Set publishes a new status. The protocol event is recorded after the lock
// is released, so a slow logger never delays Get. Events from concurrent Set
// calls may therefore be recorded in a different order than applied.
func (b *StatusBoard) Set(s Status) {
	b.mu.Lock()
	old := b.status
	b.status = s
	b.version++
	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	logger, role := b.logger, b.role
	b.mu.Unlock()

	logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerConnection,
		Category:  log.CategoryState,
		LocalRole: role,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityStatus,
			OldState: old.String(),
			NewState: s.String(),
			Reason:   s.Reason,
		},
	})
}

// Get returns a copy of the current status.
func (b *StatusBoard) Get() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Snapshot returns the current status and the number of Set calls so far.
func (b *StatusBoard) Snapshot() (Status, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status, b.version
}

// Subscribe returns a channel that is signalled after every Set, and a
// function that cancels the subscription.
func (b *StatusBoard) Subscribe() (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	ch := make(chan struct{}, 1)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Watch calls fn with the current status after each change until the
// returned stop function is called or ctx ends. fn runs on a separate
// goroutine and may miss intermediate values. stop waits for fn to return.
func (b *StatusBoard) Watch(ctx context.Context, fn func(Status)) (stop func()) {
	notify, unsubscribe := b.Subscribe()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	_, last := b.Snapshot()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-notify:
				s, version := b.Snapshot()
				if version != last {
					last = version
					fn(s)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
		unsubscribe()
	}
}
