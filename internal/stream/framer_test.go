package stream

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

const sampleStream = "event: task\ndata: {\"task_id\": 42}\n\n" +
	"event: plan\ndata: {\"summary\": \"Öffne die Seite → klicke ✓\"}\n\n" +
	": keep-alive comment\n\n" +
	"event: attempt_start\ndata: {\"attempt\": 1}\n\n" +
	"event: step_start\ndata: {\"index\": 0,\n" +
	"data:  \"step\": {\"action\": \"goto\"}}\n\n" +
	"data: {\"note\": \"no event line\"}\n\n" +
	"event: complete\ndata: {\"title\": \"Example 🚀\"}\n\n"

func TestFramerWholeStream(t *testing.T) {
	events, err := FrameAll([]byte(sampleStream))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantKinds := []Kind{KindTask, KindPlan, KindAttemptStart, KindStepStart, KindMessage, KindComplete}
	if len(events) != len(wantKinds) {
		t.Fatalf("expected %d events, got %d", len(wantKinds), len(events))
	}
	for i, k := range wantKinds {
		if events[i].Kind != k {
			t.Errorf("event %d: expected kind %s, got %s", i, k, events[i].Kind)
		}
	}

	id, ok := events[0].TaskID()
	if !ok || id != 42 {
		t.Errorf("expected task id 42, got %d (ok=%v)", id, ok)
	}
	if got := events[1].String("summary"); got != "Öffne die Seite → klicke ✓" {
		t.Errorf("unexpected summary %q", got)
	}
	step, ok := events[3].Map("step")
	if !ok || step["action"] != "goto" {
		t.Errorf("expected multi-line data to be joined, got %v", events[3].Payload)
	}
}

func TestFramerChunkingInvariance(t *testing.T) {
	want, err := FrameAll([]byte(sampleStream))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := []byte(sampleStream)

	for size := 1; size <= 17; size++ {
		got := frameInChunks(t, data, fixedSplits(len(data), size))
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("chunk size %d: events differ\nwant %v\ngot  %v", size, want, got)
		}
	}

	// Every single two-way split, which covers cuts inside delimiters and
	// inside multi-byte characters.
	for cut := 1; cut < len(data); cut++ {
		got := frameInChunks(t, data, []int{cut})
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("cut at %d: events differ", cut)
		}
	}
}

func TestFramerRetainsPartialRecord(t *testing.T) {
	fr := NewFramer()

	events, err := fr.Feed("event: plan\ndata: {\"summ")
	if err != nil || len(events) != 0 {
		t.Fatalf("expected no events yet, got %v (err=%v)", events, err)
	}
	events, err = fr.Feed("ary\": \"x\"}\n")
	if err != nil || len(events) != 0 {
		t.Fatalf("expected no events before delimiter, got %v (err=%v)", events, err)
	}
	events, err = fr.Feed("\nevent: complete\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != KindPlan {
		t.Fatalf("expected one plan event, got %v", events)
	}
	if fr.Buffered() != "event: complete\n" {
		t.Errorf("expected trailing partial record to be kept, got %q", fr.Buffered())
	}
}

func TestFramerStripsOnlyOneLeadingSpace(t *testing.T) {
	events, err := FrameAll([]byte("event:  spaced  \ndata:  {\"a\":\"b\"}\n\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Kind != "spaced" {
		t.Errorf("expected event name to be trimmed, got %q", events[0].Kind)
	}
	if events[0].String("a") != "b" {
		t.Errorf("unexpected payload %v", events[0].Payload)
	}
}

func TestFramerSkipsEmptyData(t *testing.T) {
	events, err := FrameAll([]byte("event: ping\n\nevent: plan\ndata:\n\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %v", events)
	}
}

func TestFramerReportsBadJSON(t *testing.T) {
	fr := NewFramer()
	events, err := fr.Feed("event: plan\ndata: {\"summary\": \"ok\"}\n\nevent: step_error\ndata: {not json}\n\n")

	if len(events) != 1 {
		t.Fatalf("expected the valid event before the bad record, got %d", len(events))
	}
	var fe *FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FramingError, got %v", err)
	}
	if fe.Kind != KindStepError {
		t.Errorf("expected error to name the record kind, got %s", fe.Kind)
	}
	if !strings.Contains(fe.Record, "{not json}") {
		t.Errorf("expected raw record in error, got %q", fe.Record)
	}
}

func TestFramerRejectsNonObjectPayload(t *testing.T) {
	_, err := FrameAll([]byte("event: plan\ndata: [1,2,3]\n\n"))
	if !errors.Is(err, ErrNotObject) {
		t.Errorf("expected ErrNotObject, got %v", err)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	ev := Event{Kind: KindStepError, Payload: map[string]any{"index": 2, "error": "timeout"}}
	raw, err := Encode(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	events, err := FrameAll(raw)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if len(events) != 1 || events[0].Kind != KindStepError {
		t.Fatalf("unexpected events %v", events)
	}
	if idx, _ := events[0].Int("index"); idx != 2 {
		t.Errorf("expected index 2, got %d", idx)
	}
}

func frameInChunks(t *testing.T, data []byte, splits []int) []Event {
	t.Helper()

	dec := NewChunkDecoder()
	fr := NewFramer()
	var events []Event
	prev := 0
	for _, cut := range append(splits, len(data)) {
		got, err := fr.Feed(dec.Decode(data[prev:cut]))
		if err != nil {
			t.Fatalf("feed: %v", err)
		}
		events = append(events, got...)
		prev = cut
	}
	got, err := fr.Feed(dec.Flush())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	return append(events, got...)
}

func fixedSplits(n, size int) []int {
	var splits []int
	for i := size; i < n; i += size {
		splits = append(splits, i)
	}
	return splits
}
