package message

// ByteIter is a lazy, finite cursor over a message's bytes. It does
// not materialize the message; each Next call walks into the current
// chunk only.
type ByteIter struct {
	chunks  []chunk
	chunkAt int
	byteAt  int
}

// Iter returns a fresh iterator positioned at the first byte.
func (m *Message) Iter() *ByteIter {
	if m == nil {
		return &ByteIter{}
	}
	return &ByteIter{chunks: m.chunks}
}

// Next returns the next byte and true, or (0, false) once exhausted.
func (it *ByteIter) Next() (byte, bool) {
	for it.chunkAt < len(it.chunks) {
		c := it.chunks[it.chunkAt]
		if it.byteAt < len(c.data) {
			b := c.data[it.byteAt]
			it.byteAt++
			return b, true
		}
		it.chunkAt++
		it.byteAt = 0
	}
	return 0, false
}
