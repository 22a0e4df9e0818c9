package log

import "time"

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the secure session (UUID).
	// Empty for events that precede a session, such as connect attempts.
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates data flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole indicates whether this peer is the host or the client.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Data        *DataEvent        `cbor:"10,keyasint,omitempty"` // Byte runs read or written
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Status/session state
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of data flow.
type Direction uint8

const (
	// DirectionIn indicates incoming data.
	DirectionIn Direction = 0
	// DirectionOut indicates outgoing data.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the socket/TLS layer (raw byte runs, handshakes).
	LayerTransport Layer = 0
	// LayerFraming is the optional length-prefix framing layer.
	LayerFraming Layer = 1
	// LayerConnection is the connection lifecycle layer (status, retries).
	LayerConnection Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerFraming:
		return "FRAMING"
	case LayerConnection:
		return "CONNECTION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryData indicates payload bytes moved across the session.
	CategoryData Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryData:
		return "DATA"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates whether the local peer is the host or the client.
type Role uint8

const (
	// RoleUnknown is the zero value and is omitted from encoded events.
	RoleUnknown Role = 0
	// RoleHost indicates the listening peer.
	RoleHost Role = 1
	// RoleClient indicates the connecting peer.
	RoleClient Role = 2
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleHost:
		return "HOST"
	case RoleClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// MaxLogDataSize is the maximum number of payload bytes copied into a log event.
const MaxLogDataSize = 4096

// DataEvent captures a run of bytes read from or written to a session.
type DataEvent struct {
	// Size is the number of bytes in the run (or frame payload).
	Size int `cbor:"1,keyasint"`

	// Data is the raw bytes (may be truncated for large runs).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// NewDataEvent copies at most MaxLogDataSize bytes of b into a DataEvent.
func NewDataEvent(b []byte) *DataEvent {
	ev := &DataEvent{Size: len(b)}
	n := len(b)
	if n > MaxLogDataSize {
		n = MaxLogDataSize
		ev.Truncated = true
	}
	ev.Data = append([]byte(nil), b[:n]...)
	return ev
}

// StateChangeEvent captures connection and session lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityStatus is the shared connection status shown to the user.
	StateEntityStatus StateEntity = 0
	// StateEntitySession is a single secure session.
	StateEntitySession StateEntity = 1
	// StateEntityReadLoop is the host read loop.
	StateEntityReadLoop StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityStatus:
		return "STATUS"
	case StateEntitySession:
		return "SESSION"
	case StateEntityReadLoop:
		return "READ_LOOP"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the TLS alert code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
