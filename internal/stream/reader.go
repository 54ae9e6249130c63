package stream

import (
	"context"
	"errors"
	"io"
)

// DefaultReadSize matches the read buffer the agent output reader used.
const DefaultReadSize = 4096

// Reader pulls chunks from an io.Reader through a ChunkDecoder and a Framer
// and hands out events one at a time in arrival order.
type Reader struct {
	src   io.Reader
	buf   []byte
	dec   *ChunkDecoder
	fr    *Framer
	queue []Event
	err   error
}

// NewReader wraps src. readSize <= 0 selects DefaultReadSize.
func NewReader(src io.Reader, readSize int) *Reader {
	if readSize <= 0 {
		readSize = DefaultReadSize
	}
	return &Reader{
		src: src,
		buf: make([]byte, readSize),
		dec: NewChunkDecoder(),
		fr:  NewFramer(),
	}
}

// Next returns the next event. It returns io.EOF once the source is exhausted,
// a *FramingError for a corrupt record, ctx.Err() if ctx is done, or the
// source's read error. Events framed before a source error are returned
// first; once ctx is done, events still queued are dropped.
func (r *Reader) Next(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		if len(r.queue) > 0 {
			ev := r.queue[0]
			r.queue = r.queue[1:]
			return ev, nil
		}
		if r.err != nil {
			return Event{}, r.err
		}
		r.fill(ctx)
	}
}

func (r *Reader) fill(ctx context.Context) {
	n, readErr := r.src.Read(r.buf)
	if n > 0 {
		events, err := r.fr.Feed(r.dec.Decode(r.buf[:n]))
		r.queue = append(r.queue, events...)
		if err != nil {
			r.err = err
			return
		}
	}
	if readErr == nil {
		return
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		r.err = ctxErr
		return
	}
	if !errors.Is(readErr, io.EOF) {
		r.err = readErr
		return
	}

	events, err := r.fr.Feed(r.dec.Flush())
	r.queue = append(r.queue, events...)
	if err != nil {
		r.err = err
		return
	}
	r.err = io.EOF
}
