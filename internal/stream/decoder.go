// Package stream turns a provider's framed byte stream into a lazy
// sequence of JSON events. It knows nothing about which provider it is
// decoding for; field semantics are applied afterwards by an adapter.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"iter"

	"github.com/davidbz/conduit/internal/domain"
)

const (
	// MaxEventSize bounds the working buffer of a single event.
	MaxEventSize = 1 << 20

	defaultReadSize = 4096
	doneSentinel    = "[DONE]"
)

// DoneFunc reports whether an event is a wire-specific end-of-stream marker.
type DoneFunc func(event []byte) bool

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithDoneFunc ends the sequence after the first event matching fn.
func WithDoneFunc(fn DoneFunc) DecoderOption {
	return func(d *Decoder) {
		d.doneFn = fn
	}
}

// WithReadSize sets how many bytes are requested per read.
func WithReadSize(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.readBuf = make([]byte, n)
		}
	}
}

// Decoder incrementally decodes line-framed JSON events ("data: {...}"
// server-sent events or bare newline-delimited JSON). A value split
// across reads or across lines is retained until it parses.
type Decoder struct {
	r       io.Reader
	readBuf []byte
	pending []byte
	work    bytes.Buffer
	queue   []json.RawMessage
	doneFn  DoneFunc

	sentinel bool
	finished bool
	err      error
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		r:       r,
		readBuf: make([]byte, defaultReadSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next returns the next event. It returns io.EOF once the stream has
// ended, and a *domain.DecodeError when trailing bytes never parsed.
// Read errors from the underlying reader are returned unchanged.
func (d *Decoder) Next() (json.RawMessage, error) {
	for {
		if len(d.queue) > 0 {
			event := d.queue[0]
			d.queue = d.queue[1:]
			if d.doneFn != nil && d.doneFn(event) {
				d.queue = nil
				d.finished = true
			}
			return event, nil
		}

		if d.err != nil {
			return nil, d.err
		}

		if d.finished || d.sentinel {
			d.finished = true
			return nil, io.EOF
		}

		n, err := d.r.Read(d.readBuf)
		if n > 0 {
			d.feed(d.readBuf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.drain()
				continue
			}
			d.err = err
		}
	}
}

// All returns the remaining events as a single-pass sequence. Iteration
// stops after the first error, which is yielded with a nil event.
func (d *Decoder) All() iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		for {
			event, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(event, nil) {
				return
			}
		}
	}
}

func (d *Decoder) feed(p []byte) {
	d.pending = append(d.pending, p...)
	for !d.sentinel && d.err == nil {
		idx := bytes.IndexByte(d.pending, '\n')
		if idx < 0 {
			if d.work.Len()+len(d.pending) > MaxEventSize {
				d.err = &domain.DecodeError{Message: "event exceeds maximum size"}
				d.pending = nil
				d.work.Reset()
			}
			return
		}
		line := d.pending[:idx]
		d.pending = d.pending[idx+1:]
		d.line(line)
	}
}

// drain handles end of input: the last unterminated line is processed and
// anything left in the working buffer gets one final parse attempt.
func (d *Decoder) drain() {
	if len(d.pending) > 0 && !d.sentinel && d.err == nil {
		line := d.pending
		d.pending = nil
		d.line(line)
	}
	d.finished = true

	if d.sentinel || d.err != nil {
		return
	}

	rest := bytes.TrimSpace(d.work.Bytes())
	if len(rest) == 0 {
		return
	}
	d.err = &domain.DecodeError{
		Message: "unterminated event at end of stream",
		Data:    bytes.Clone(rest),
	}
	d.work.Reset()
}

func (d *Decoder) line(raw []byte) {
	line := bytes.TrimRight(raw, "\r")
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] == ':' {
		return
	}

	var payload []byte
	switch {
	case bytes.HasPrefix(line, []byte("data:")):
		payload = bytes.TrimPrefix(line, []byte("data:"))
		payload = bytes.TrimPrefix(payload, []byte(" "))
	case bytes.HasPrefix(line, []byte("event:")),
		bytes.HasPrefix(line, []byte("id:")),
		bytes.HasPrefix(line, []byte("retry:")):
		return
	default:
		payload = line
	}

	if string(bytes.TrimSpace(payload)) == doneSentinel {
		d.sentinel = true
		return
	}

	d.push(payload)
}

func (d *Decoder) push(payload []byte) {
	remainder := d.work.Len()
	d.work.Write(payload)

	if data := bytes.TrimSpace(d.work.Bytes()); json.Valid(data) {
		d.queue = append(d.queue, bytes.Clone(data))
		d.work.Reset()
		return
	}

	// A whole value on its own line means the retained bytes before it
	// were a truncated event. They can never complete, so the stream fails.
	if remainder > 0 {
		if data := bytes.TrimSpace(payload); isComposite(data) && json.Valid(data) {
			d.err = &domain.DecodeError{
				Message: "truncated event followed by a complete one",
				Data:    bytes.Clone(bytes.TrimSpace(d.work.Bytes()[:remainder])),
			}
			d.work.Reset()
			return
		}
	}

	if d.work.Len() > MaxEventSize {
		d.err = &domain.DecodeError{Message: "event exceeds maximum size"}
		d.work.Reset()
	}
}

func isComposite(data []byte) bool {
	return len(data) > 0 && (data[0] == '{' || data[0] == '[')
}
