// Package message implements the zero-copy byte rope shared by every
// protocol in the stack. A Message is an ordered sequence of shared,
// immutable chunks; prepending a header or slicing a range never
// copies payload bytes, only the (small) chunk index.
package message

import (
	"fmt"

	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/simerrors"
)

// ErrOutOfRange is returned by Slice when the requested bounds fall
// outside the message. It is simerrors.OutOfRange under the hood so
// callers can check either name with errors.Is.
var ErrOutOfRange = simerrors.OutOfRange

// chunk is an immutable view into a shared byte buffer. Multiple
// Messages may reference the same chunk concurrently; Go's garbage
// collector provides the reference counting the original design
// calls for, so chunk carries no explicit counter.
type chunk struct {
	data []byte
}

// Message is an immutable, cheaply-shared logical byte sequence. The
// zero value is the empty message, the same value New returns.
type Message struct {
	chunks []chunk
	length int
}

// New returns an empty message.
func New() *Message {
	return &Message{}
}

// NewFromBytes wraps b as a single-chunk message. b must not be
// mutated by the caller afterwards; Message never copies it.
func NewFromBytes(b []byte) *Message {
	if len(b) == 0 {
		return New()
	}
	return &Message{chunks: []chunk{{data: b}}, length: len(b)}
}

// Len returns the number of bytes in the message. O(1).
func (m *Message) Len() int {
	if m == nil {
		return 0
	}
	return m.length
}

// Prepend returns a new message whose bytes are header followed by
// m's bytes. O(number of chunks in m); header's payload is never
// copied, only referenced.
func (m *Message) Prepend(header []byte) *Message {
	if len(header) == 0 {
		return m.clone()
	}
	out := make([]chunk, 0, len(m.chunks)+1)
	out = append(out, chunk{data: header})
	out = append(out, m.chunks...)
	return &Message{chunks: out, length: m.Len() + len(header)}
}

// Append returns a new message whose bytes are m's bytes followed by
// trailer. Same cost profile as Prepend.
func (m *Message) Append(trailer []byte) *Message {
	if len(trailer) == 0 {
		return m.clone()
	}
	out := make([]chunk, 0, len(m.chunks)+1)
	out = append(out, m.chunks...)
	out = append(out, chunk{data: trailer})
	return &Message{chunks: out, length: m.Len() + len(trailer)}
}

// Concat returns a new message that is m followed by other. Both
// inputs keep their own chunk sets; nothing is copied.
func (m *Message) Concat(other *Message) *Message {
	if other.Len() == 0 {
		return m.clone()
	}
	if m.Len() == 0 {
		return other.clone()
	}
	out := make([]chunk, 0, len(m.chunks)+len(other.chunks))
	out = append(out, m.chunks...)
	out = append(out, other.chunks...)
	return &Message{chunks: out, length: m.length + other.length}
}

// Slice returns the sub-message covering the half-open byte range
// [start, end). The underlying chunk data is shared, sliced in place
// by the Go runtime (a slice expression, not a copy). Returns
// ErrOutOfRange if 0 <= start <= end <= Len() does not hold.
func (m *Message) Slice(start, end int) (*Message, error) {
	if start < 0 || end < start || end > m.Len() {
		return nil, ErrOutOfRange
	}
	if start == end {
		return New(), nil
	}

	out := make([]chunk, 0, len(m.chunks))
	offset := 0
	for _, c := range m.chunks {
		cStart := offset
		cEnd := offset + len(c.data)
		offset = cEnd

		// no overlap with [start, end)
		if cEnd <= start || cStart >= end {
			continue
		}

		lo := 0
		if start > cStart {
			lo = start - cStart
		}
		hi := len(c.data)
		if end < cEnd {
			hi = end - cStart
		}
		out = append(out, chunk{data: c.data[lo:hi]})
	}
	return &Message{chunks: out, length: end - start}, nil
}

// clone returns a shallow copy sharing the same chunks; used so that
// the degenerate Prepend("")/Append(nil) paths still return a
// distinct, independently-mutable chunk slice header.
func (m *Message) clone() *Message {
	if m == nil {
		return New()
	}
	out := make([]chunk, len(m.chunks))
	copy(out, m.chunks)
	return &Message{chunks: out, length: m.length}
}

// Bytes materializes the message as a single contiguous slice. This
// is the one place a copy happens; callers on the hot send/receive
// path should prefer Iter or Slice instead.
func (m *Message) Bytes() []byte {
	out := make([]byte, 0, m.Len())
	for _, c := range m.chunks {
		out = append(out, c.data...)
	}
	return out
}

// String renders the message length and chunk count for debugging.
func (m *Message) String() string {
	if m == nil {
		return "Message{nil}"
	}
	return fmt.Sprintf("Message{len=%d, chunks=%d}", m.length, len(m.chunks))
}
