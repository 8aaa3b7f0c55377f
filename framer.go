package jsonmessenger

import "github.com/pkg/errors"

// Framer cuts a byte stream into JSON texts by counting braces and brackets.
//
// A message ends at the byte where both depths return to zero after having
// been opened. Bytes between messages are kept and become the prefix of the
// next message. Structural characters inside string literals are counted like
// any other, so a payload such as {"a":"}"} desynchronizes the stream. That is
// the framing contract peers rely on and is deliberately left as is.
//
// A Framer is not safe for concurrent use; the owning session serializes Feed.
type Framer struct {
	counters Counters
	pending  []byte
	maxSize  int
}

// NewFramer returns a framer that rejects messages longer than maxSize bytes.
// A maxSize of zero or less means unlimited.
func NewFramer(maxSize int) *Framer {
	return &Framer{maxSize: maxSize}
}

// Feed appends block to the pending message and returns every message it
// completes, in order. Each returned slice is owned by the caller.
//
// Bytes buffered before the first opening token count toward the size limit
// too; exceeding it there reports ErrUnframedBytes rather than
// ErrMessageTooLarge.
//
// On a stray closing token or an oversized message Feed returns the messages
// completed before the fault together with a *FramingError, and discards the
// partial message.
func (f *Framer) Feed(block []byte) ([][]byte, error) {
	var msgs [][]byte
	start := 0
	for i, b := range block {
		if !f.counters.Count(b) {
			offset := len(f.pending) + i - start
			f.reset()
			return msgs, &FramingError{Token: b, Offset: offset}
		}

		if size := len(f.pending) + i + 1 - start; f.maxSize > 0 && size > f.maxSize {
			cause := ErrMessageTooLarge
			if !f.counters.Opened() {
				cause = ErrUnframedBytes
			}
			f.reset()
			return msgs, &FramingError{
				Offset: size - 1,
				Err:    errors.Wrapf(cause, "limit %d bytes", f.maxSize),
			}
		}

		if f.counters.Balanced() {
			f.pending = append(f.pending, block[start:i+1]...)
			msgs = append(msgs, f.pending)
			f.pending = nil
			f.counters.Reset()
			start = i + 1
		}
	}

	f.pending = append(f.pending, block[start:]...)
	return msgs, nil
}

// Pending returns the number of buffered bytes not yet part of a complete message.
func (f *Framer) Pending() int {
	return len(f.pending)
}

// Counters returns a copy of the current depth counters.
func (f *Framer) Counters() Counters {
	return f.counters
}

func (f *Framer) reset() {
	f.pending = nil
	f.counters.Reset()
}
