package tcp

import "github.com/cs-wwu/srg-elvis-public/pkg/elvis/message"

// recvBuffer reassembles an in-order byte stream from segments that
// may arrive out of order (spec §4.4 "sliding receive window"). Each
// segment is kept as the message.Message slice it arrived in; nothing
// is copied into a flat buffer until Drain concatenates the
// contiguous prefix for delivery.
type recvBuffer struct {
	capacity int
	nextSeq  uint32
	pending  map[uint32]*message.Message
	buffered int
}

func newRecvBuffer(capacity int, initialSeq uint32) *recvBuffer {
	return &recvBuffer{
		capacity: capacity,
		nextSeq:  initialSeq,
		pending:  make(map[uint32]*message.Message),
	}
}

// Insert stores a segment starting at seq. It is ignored if it falls
// entirely before nextSeq (already delivered) or would overflow the
// advertised window.
func (b *recvBuffer) Insert(seq uint32, payload *message.Message) {
	if payload.Len() == 0 {
		return
	}
	if seqLess(seq+uint32(payload.Len()), b.nextSeq+1) {
		return // entirely old data
	}
	if _, exists := b.pending[seq]; exists {
		return
	}
	if b.buffered+payload.Len() > b.capacity {
		return // would exceed the advertised window; sender will retransmit
	}
	b.pending[seq] = payload
	b.buffered += payload.Len()
}

// Drain returns the contiguous run of bytes starting at nextSeq,
// advancing nextSeq past it, or nil if nextSeq has not yet arrived.
func (b *recvBuffer) Drain() *message.Message {
	out := message.New()
	for {
		seg, ok := b.pending[b.nextSeq]
		if !ok {
			break
		}
		delete(b.pending, b.nextSeq)
		b.buffered -= seg.Len()
		out = out.Concat(seg)
		b.nextSeq += uint32(seg.Len())
	}
	if out.Len() == 0 {
		return nil
	}
	return out
}

// Window returns the receive window to advertise: remaining capacity
// after already-buffered, not-yet-delivered bytes.
func (b *recvBuffer) Window() int {
	return b.capacity - b.buffered
}

// NextSeq returns the next in-order sequence number expected.
func (b *recvBuffer) NextSeq() uint32 {
	return b.nextSeq
}

// seqLess compares sequence numbers with wraparound, as real TCP
// does: a is "less than" b if the signed difference a-b is negative.
func seqLess(a, b uint32) bool {
	return int32(a-b) < 0
}
