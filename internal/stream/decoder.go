package stream

import (
	"errors"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ChunkDecoder converts raw network chunks to text. A UTF-8 sequence cut by a
// chunk boundary is held back until the rest of it arrives, so a character is
// never split across two outputs. Malformed input becomes U+FFFD.
type ChunkDecoder struct {
	t       transform.Transformer
	pending []byte
}

// NewChunkDecoder returns a decoder with empty state.
func NewChunkDecoder() *ChunkDecoder {
	return &ChunkDecoder{t: unicode.UTF8.NewDecoder()}
}

// Decode appends chunk to the held-back bytes and returns every complete
// character decoded so far.
func (d *ChunkDecoder) Decode(chunk []byte) string {
	d.pending = append(d.pending, chunk...)
	return d.run(false)
}

// Flush decodes whatever is still held back, replacing an incomplete trailing
// sequence. Call it once the stream has ended.
func (d *ChunkDecoder) Flush() string {
	out := d.run(true)
	d.t.Reset()
	return out
}

// Pending reports how many bytes are waiting for the rest of a character.
func (d *ChunkDecoder) Pending() int {
	return len(d.pending)
}

func (d *ChunkDecoder) run(atEOF bool) string {
	if len(d.pending) == 0 {
		return ""
	}

	var out []byte
	src := d.pending
	for {
		// Each invalid byte can expand to a 3-byte replacement character.
		dst := make([]byte, 3*len(src)+utf8.UTFMax)
		nDst, nSrc, err := d.t.Transform(dst, src, atEOF)
		out = append(out, dst[:nDst]...)
		src = src[nSrc:]
		if errors.Is(err, transform.ErrShortDst) && nSrc > 0 {
			continue
		}
		break
	}

	// Copy so the held-back bytes do not pin the caller's buffer.
	d.pending = append([]byte(nil), src...)
	return string(out)
}
