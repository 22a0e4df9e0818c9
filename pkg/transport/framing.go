package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/peerlink/peerlink-go/pkg/log"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the big-endian length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxFrameSize is the largest payload a frame may carry (64 KiB).
	DefaultMaxFrameSize = 64 * 1024
)

// Framing errors.
var (
	ErrFrameTooLarge  = errors.New("frame too large")
	ErrFrameEmpty     = errors.New("frame is empty")
	ErrFrameTruncated = errors.New("frame truncated")
)

// Framer reads and writes length-prefixed frames. ReadFrame must be called
// from one goroutine at a time; WriteFrame may be called concurrently.
type Framer struct {
	rw      io.ReadWriter
	maxSize uint32
	prefix  [LengthPrefixSize]byte

	wmu sync.Mutex

	logger log.Logger
	connID string
	role   log.Role
}

// FramerOption configures a Framer.
type FramerOption func(*Framer)

// WithMaxFrameSize limits the payload size in both directions.
func WithMaxFrameSize(n uint32) FramerOption {
	return func(f *Framer) {
		if n > 0 {
			f.maxSize = n
		}
	}
}

// WithFrameLogger records every frame as a framing-layer data event.
func WithFrameLogger(logger log.Logger, connID string, role log.Role) FramerOption {
	return func(f *Framer) {
		f.logger = logger
		f.connID = connID
		f.role = role
	}
}

// NewFramer creates a framer over rw.
func NewFramer(rw io.ReadWriter, opts ...FramerOption) *Framer {
	f := &Framer{rw: rw, maxSize: DefaultMaxFrameSize}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WriteFrame writes p as one frame. Prefix and payload go out in a single
// Write so a frame is never split across TLS records by the framer.
func (f *Framer) WriteFrame(p []byte) error {
	if err := f.checkSize(len(p)); err != nil {
		return err
	}

	buf := make([]byte, 0, FrameSize(len(p)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p)))
	buf = append(buf, p...)

	f.wmu.Lock()
	_, err := f.rw.Write(buf)
	f.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	f.log(p, log.DirectionOut)
	return nil
}

// ReadFrame reads the next frame and returns its payload. A clean end of
// stream before a prefix returns io.EOF.
func (f *Framer) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(f.rw, f.prefix[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("read frame prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(f.prefix[:])
	if err := f.checkSize(int(n)); err != nil {
		return nil, err
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(f.rw, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	f.log(payload, log.DirectionIn)
	return payload, nil
}

func (f *Framer) checkSize(n int) error {
	if n == 0 {
		return ErrFrameEmpty
	}
	if uint64(n) > uint64(f.maxSize) {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, f.maxSize)
	}
	return nil
}

func (f *Framer) log(payload []byte, dir log.Direction) {
	if f.logger == nil {
		return
	}
	f.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: f.connID,
		Direction:    dir,
		Layer:        log.LayerFraming,
		Category:     log.CategoryData,
		LocalRole:    f.role,
		Data:         log.NewDataEvent(payload),
	})
}

// FrameSize returns the encoded size of a frame carrying n payload bytes.
func FrameSize(n int) int {
	return LengthPrefixSize + n
}
