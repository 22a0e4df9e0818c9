package log

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// TraceExt is the file extension of protocol traces.
const TraceExt = ".plog"

// maxTraceNesting bounds decode depth. Events nest only a few levels, so
// deeper input is a corrupt trace.
const maxTraceNesting = 16

// ErrTruncatedTrace is returned when a trace ends inside an event, as it
// does when the writing process stopped mid-write.
var ErrTruncatedTrace = errors.New("trace truncated")

var (
	traceEnc cbor.EncMode
	traceDec cbor.DecMode
)

func init() {
	var err error

	traceEnc, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace encoder: %v", err))
	}

	// Older traces may carry fields this build does not know.
	traceDec, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		MaxNestedLevels:   maxTraceNesting,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("trace decoder: %v", err))
	}
}

// normalize stores timestamps in UTC so traces from peers in different
// zones sort and compare directly.
func normalize(e Event) Event {
	e.Timestamp = e.Timestamp.UTC()
	return e
}

// EncodeEvent encodes one event as it is stored in a trace.
func EncodeEvent(event Event) ([]byte, error) {
	return traceEnc.Marshal(normalize(event))
}

// DecodeEvent decodes a single event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := traceDec.Unmarshal(data, &event); err != nil {
		return Event{}, decodeErr(err)
	}
	return event, nil
}

// DecodeEvents decodes every event in a trace. When the trace is
// truncated, the complete events are returned with ErrTruncatedTrace.
func DecodeEvents(data []byte) ([]Event, error) {
	dec := NewDecoder(bytes.NewReader(data))
	var events []Event
	for {
		var event Event
		err := dec.Decode(&event)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, decodeErr(err)
		}
		events = append(events, event)
	}
}

// NewEncoder returns an encoder writing trace events to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return traceEnc.NewEncoder(w)
}

// NewDecoder returns a decoder reading trace events from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return traceDec.NewDecoder(r)
}

func decodeErr(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrTruncatedTrace, err)
	}
	return err
}
