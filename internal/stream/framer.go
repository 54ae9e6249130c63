package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const recordDelimiter = "\n\n"

// ErrNotObject is wrapped by a FramingError when a record's data is valid
// JSON but not an object.
var ErrNotObject = errors.New("payload is not a JSON object")

// FramingError reports a record whose data could not be decoded. A stream
// that produced one cannot be resynchronised and must be abandoned.
type FramingError struct {
	Kind   Kind
	Record string
	Err    error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing %q record: %v", e.Kind, e.Err)
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// Framer is an incremental parser for the event wire format. It owns the text
// that has arrived but not yet been framed, so it can be fed text in pieces of
// any size and still produce the same events.
type Framer struct {
	buf strings.Builder
}

// NewFramer returns a framer with an empty buffer.
func NewFramer() *Framer {
	return &Framer{}
}

// Feed appends text to the buffer and returns every event whose record is now
// complete. On a FramingError the events framed before the bad record are
// returned alongside the error.
func (f *Framer) Feed(text string) ([]Event, error) {
	f.buf.WriteString(text)

	rest := f.buf.String()
	var events []Event
	for {
		idx := strings.Index(rest, recordDelimiter)
		if idx < 0 {
			break
		}
		raw := rest[:idx]
		rest = rest[idx+len(recordDelimiter):]

		ev, ok, err := parseRecord(raw)
		if err != nil {
			f.reset(rest)
			return events, err
		}
		if ok {
			events = append(events, ev)
		}
	}

	f.reset(rest)
	return events, nil
}

// Buffered returns the text held for the next Feed call.
func (f *Framer) Buffered() string {
	return f.buf.String()
}

func (f *Framer) reset(rest string) {
	f.buf.Reset()
	f.buf.WriteString(rest)
}

func parseRecord(raw string) (Event, bool, error) {
	name := KindMessage
	var data strings.Builder

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			name = Kind(strings.TrimSpace(line[len("event:"):]))
		case strings.HasPrefix(line, "data:"):
			value := line[len("data:"):]
			data.WriteString(strings.TrimPrefix(value, " "))
		}
	}

	if data.Len() == 0 {
		return Event{}, false, nil
	}

	payload, err := decodePayload(data.String())
	if err != nil {
		return Event{}, false, &FramingError{Kind: name, Record: raw, Err: err}
	}
	return Event{Kind: name, Payload: payload}, true, nil
}

func decodePayload(data string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode payload: trailing data after JSON value")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return obj, nil
}

// FrameAll frames a complete stream held in memory. Text after the last
// delimiter is ignored, matching what a live stream does at end of input.
func FrameAll(data []byte) ([]Event, error) {
	dec := NewChunkDecoder()
	fr := NewFramer()
	events, err := fr.Feed(dec.Decode(data))
	if err != nil {
		return events, err
	}
	more, err := fr.Feed(dec.Flush())
	return append(events, more...), err
}

// Encode writes ev in wire format. It is the inverse of framing and is used by
// tests and fixtures.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Kind, err)
	}
	var b bytes.Buffer
	if ev.Kind != "" && ev.Kind != KindMessage {
		fmt.Fprintf(&b, "event: %s\n", ev.Kind)
	}
	fmt.Fprintf(&b, "data: %s\n\n", data)
	return b.Bytes(), nil
}
