package stream

import (
	"strings"
	"testing"
)

func TestChunkDecoderHoldsSplitCharacter(t *testing.T) {
	dec := NewChunkDecoder()
	word := []byte("héllo €")

	// "é" is 2 bytes starting at offset 1; cut inside it.
	first := dec.Decode(word[:2])
	if first != "h" {
		t.Fatalf("expected %q, got %q", "h", first)
	}
	if dec.Pending() != 1 {
		t.Fatalf("expected 1 pending byte, got %d", dec.Pending())
	}

	// "€" is 3 bytes at the end; cut after its first byte.
	second := dec.Decode(word[2 : len(word)-2])
	if second != "éllo " {
		t.Fatalf("expected %q, got %q", "éllo ", second)
	}

	third := dec.Decode(word[len(word)-2:])
	if third != "€" {
		t.Fatalf("expected %q, got %q", "€", third)
	}
	if dec.Pending() != 0 {
		t.Errorf("expected nothing pending, got %d", dec.Pending())
	}
}

func TestChunkDecoderByteAtATime(t *testing.T) {
	input := "日本語 ✓ emoji 🚀 done"
	dec := NewChunkDecoder()

	var out strings.Builder
	for i := 0; i < len(input); i++ {
		out.WriteString(dec.Decode([]byte{input[i]}))
	}
	out.WriteString(dec.Flush())

	if out.String() != input {
		t.Errorf("expected %q, got %q", input, out.String())
	}
}

func TestChunkDecoderReplacesMalformedBytes(t *testing.T) {
	dec := NewChunkDecoder()

	got := dec.Decode([]byte{'a', 0xff, 'b'})
	if got != "a�b" {
		t.Errorf("expected replacement character, got %q", got)
	}
}

func TestChunkDecoderFlushReplacesTruncatedTail(t *testing.T) {
	dec := NewChunkDecoder()

	got := dec.Decode([]byte{'x', 0xe2, 0x82})
	if got != "x" {
		t.Fatalf("expected %q, got %q", "x", got)
	}

	tail := dec.Flush()
	if !strings.Contains(tail, "�") {
		t.Errorf("expected replacement for truncated tail, got %q", tail)
	}
	if dec.Pending() != 0 {
		t.Errorf("expected flush to drain pending bytes, got %d", dec.Pending())
	}
}
