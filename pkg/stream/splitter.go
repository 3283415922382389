// Package stream reassembles complete lines from an arbitrarily chunked byte stream.
package stream

import (
	"bytes"
	"fmt"
)

// LineFunc consumes one complete line without its terminator.
// the slice is only valid for the duration of the call.
type LineFunc func(line []byte) error

// Splitter buffers raw chunks and emits complete lines in arrival order.
// chunk boundaries may fall anywhere relative to line terminators; the
// splitter keeps any unterminated tail buffered between calls.
//
// Feed and Flush must be called from a single logical sequence - the byte
// stream itself is ordered and single-producer.
type Splitter struct {
	fn      LineFunc
	pending []byte
}

// NewSplitter creates a splitter delivering lines to fn.
func NewSplitter(fn LineFunc) *Splitter {
	return &Splitter{fn: fn}
}

// Feed appends chunk to the pending buffer and emits every complete line it
// now contains. a single trailing CR before the LF is stripped, so CRLF and
// LF terminated input produce identical lines.
//
// if the callback fails, the failed line is already consumed from the buffer
// and the error is returned; remaining buffered lines are untouched and will
// be emitted by the next Feed or Flush call.
func (s *Splitter) Feed(chunk []byte) error {
	s.pending = append(s.pending, chunk...)
	return s.drain()
}

// Flush emits the buffered remainder as one final, unterminated line.
// no-op when the buffer is empty.
func (s *Splitter) Flush() error {
	if err := s.drain(); err != nil {
		return err
	}
	if len(s.pending) == 0 {
		return nil
	}
	line := s.pending
	s.pending = nil
	if err := s.fn(line); err != nil {
		return fmt.Errorf("line callback: %w", err)
	}
	return nil
}

// Pending returns the number of buffered bytes awaiting a terminator.
func (s *Splitter) Pending() int { return len(s.pending) }

// drain emits complete lines from the pending buffer until no terminator is left.
func (s *Splitter) drain() error {
	for {
		idx := bytes.IndexByte(s.pending, '\n')
		if idx < 0 {
			return nil
		}

		// consume the line (and terminator) before invoking the callback,
		// so a callback failure never re-delivers or drops buffered lines
		rest := make([]byte, len(s.pending)-idx-1)
		copy(rest, s.pending[idx+1:])
		emitted := s.pending[:idx:idx]
		if n := len(emitted); n > 0 && emitted[n-1] == '\r' {
			emitted = emitted[:n-1]
		}
		s.pending = rest

		if err := s.fn(emitted); err != nil {
			return fmt.Errorf("line callback: %w", err)
		}
	}
}
