package transport

import (
	"io"
	"time"

	"github.com/peerlink/peerlink-go/pkg/log"
)

// WriteOnce submits a single write of payload on s. onDone, if set, runs on
// the reactor goroutine with the write error. Failed writes are logged and
// never retried.
func WriteOnce(r *Reactor, s *Session, payload []byte, onDone func(error)) error {
	p := append([]byte(nil), payload...)
	return r.Submit(func() (int, error) {
		n, err := s.Write(p)
		if err == nil && n < len(p) {
			err = io.ErrShortWrite
		}
		return n, err
	}, writeCompletion(s, "write", onDone))
}

// WriteFrameOnce submits a single length-prefixed frame write on s.
func WriteFrameOnce(r *Reactor, s *Session, payload []byte, onDone func(error)) error {
	p := append([]byte(nil), payload...)
	return r.Submit(func() (int, error) {
		if err := s.Framer().WriteFrame(p); err != nil {
			return 0, err
		}
		return len(p), nil
	}, writeCompletion(s, "write frame", onDone))
}

func writeCompletion(s *Session, op string, onDone func(error)) Completion {
	return func(_ int, err error) {
		if err != nil {
			s.logger.Log(log.Event{
				Timestamp:    time.Now(),
				ConnectionID: s.id,
				Direction:    log.DirectionOut,
				Layer:        log.LayerTransport,
				Category:     log.CategoryError,
				LocalRole:    s.role.LogRole(),
				RemoteAddr:   s.remote,
				Error: &log.ErrorEventData{
					Layer:   log.LayerTransport,
					Message: err.Error(),
					Context: op,
				},
			})
			err = NewTransportError("write", err)
		}
		if onDone != nil {
			onDone(err)
		}
	}
}
