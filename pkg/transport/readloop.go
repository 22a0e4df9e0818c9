package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/peerlink/peerlink-go/pkg/log"
)

// ReadBufferSize is the size of each raw read.
const ReadBufferSize = 128

// ErrLoopFinished is returned when starting a read loop that has ended.
var ErrLoopFinished = errors.New("read loop finished")

// ErrLoopStarted is returned when starting a read loop twice.
var ErrLoopStarted = errors.New("read loop already started")

// ReadState is the state of a ReadLoop.
type ReadState uint8

const (
	// ReadIdle indicates the loop has not been started.
	ReadIdle ReadState = iota

	// Reading indicates a read is outstanding.
	Reading

	// ReadClosed indicates the peer closed the session.
	ReadClosed

	// ReadErrored indicates a read failed.
	ReadErrored
)

// String returns the state name.
func (s ReadState) String() string {
	switch s {
	case ReadIdle:
		return "IDLE"
	case Reading:
		return "READING"
	case ReadClosed:
		return "CLOSED"
	case ReadErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// PayloadHandler receives each byte run (or frame) read from a session.
// The slice is owned by the handler.
type PayloadHandler func(p []byte)

// ReadLoop keeps exactly one read outstanding on a session and delivers what
// it reads to a handler on the reactor goroutine.
//
// In raw mode each delivery is one transport read of at most ReadBufferSize
// bytes; message boundaries are not preserved. In framed mode each delivery
// is one length-prefixed frame.
type ReadLoop struct {
	reactor *Reactor
	session *Session
	handler PayloadHandler
	framed  bool

	buf   [ReadBufferSize]byte
	frame []byte

	mu       sync.Mutex
	state    ReadState
	err      error
	onFinish func(ReadState, error)
}

// ReadLoopOption configures a ReadLoop.
type ReadLoopOption func(*ReadLoop)

// WithFraming makes the loop deliver whole length-prefixed frames.
func WithFraming() ReadLoopOption {
	return func(l *ReadLoop) { l.framed = true }
}

// NewReadLoop creates a read loop for s whose completions run on r.
func NewReadLoop(r *Reactor, s *Session, h PayloadHandler, opts ...ReadLoopOption) *ReadLoop {
	l := &ReadLoop{
		reactor: r,
		session: s,
		handler: h,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OnFinish sets a callback run on the reactor goroutine when the loop ends.
func (l *ReadLoop) OnFinish(fn func(state ReadState, err error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onFinish = fn
}

// State returns the current state.
func (l *ReadLoop) State() ReadState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err returns the error that ended the loop, nil for a clean close.
func (l *ReadLoop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Start submits the first read. A loop runs once; it cannot be restarted.
func (l *ReadLoop) Start() error {
	l.mu.Lock()
	switch l.state {
	case Reading:
		l.mu.Unlock()
		return ErrLoopStarted
	case ReadClosed, ReadErrored:
		l.mu.Unlock()
		return ErrLoopFinished
	}
	l.state = Reading
	l.mu.Unlock()

	l.logState(ReadIdle, Reading)
	if err := l.submit(); err != nil {
		l.finish(err)
		return err
	}
	return nil
}

func (l *ReadLoop) submit() error {
	if l.framed {
		return l.reactor.Submit(l.readFrame, l.onRead)
	}
	return l.reactor.Submit(l.readRaw, l.onRead)
}

func (l *ReadLoop) readRaw() (int, error) {
	return l.session.Read(l.buf[:])
}

func (l *ReadLoop) readFrame() (int, error) {
	frame, err := l.session.Framer().ReadFrame()
	l.frame = frame
	return len(frame), err
}

// onRead runs on the reactor goroutine.
func (l *ReadLoop) onRead(n int, err error) {
	if n > 0 {
		var p []byte
		if l.framed {
			p, l.frame = l.frame, nil
		} else {
			p = append([]byte(nil), l.buf[:n]...)
		}
		if l.handler != nil {
			l.handler(p)
		}
	}

	if err != nil {
		l.finish(err)
		return
	}
	if err := l.submit(); err != nil {
		l.finish(err)
	}
}

func (l *ReadLoop) finish(err error) {
	state := ReadErrored
	if isCleanClose(err) {
		state = ReadClosed
		err = nil
	}

	l.mu.Lock()
	if l.state != Reading {
		l.mu.Unlock()
		return
	}
	l.state = state
	l.err = err
	fn := l.onFinish
	l.mu.Unlock()

	l.session.Close()
	l.logState(Reading, state)
	if err != nil {
		l.session.logger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: l.session.id,
			Layer:        log.LayerTransport,
			Category:     log.CategoryError,
			LocalRole:    l.session.role.LogRole(),
			RemoteAddr:   l.session.remote,
			Error: &log.ErrorEventData{
				Layer:   log.LayerTransport,
				Message: err.Error(),
				Context: "read",
			},
		})
	}
	if fn != nil {
		fn(state, err)
	}
}

func (l *ReadLoop) logState(oldState, newState ReadState) {
	l.session.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: l.session.id,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    l.session.role.LogRole(),
		RemoteAddr:   l.session.remote,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityReadLoop,
			OldState: oldState.String(),
			NewState: newState.String(),
		},
	})
}

// isCleanClose reports whether err marks an orderly end of the stream.
func isCleanClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrConnectionClosed)
}
