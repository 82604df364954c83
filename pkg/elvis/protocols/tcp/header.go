package tcp

import "encoding/binary"

// HeaderLen is TCP's fixed header in this implementation: src port,
// dst port, sequence number, ack number, flags, window, checksum
// (spec §4.4). No options, no urgent pointer: the core models the
// state machine and flow control, not wire compatibility with real
// TCP.
const HeaderLen = 17

// Flag bits carried in the single flags byte.
const (
	FlagSYN byte = 1 << iota
	FlagACK
	FlagFIN
	FlagRST
)

// Header is the parsed form of the fixed header this package prepends
// on send and strips on receive.
type Header struct {
	SrcPort  uint16
	DstPort  uint16
	Seq      uint32
	Ack      uint32
	Flags    byte
	Window   uint16
	Checksum uint16
}

// Has reports whether every bit in flags is set in h.Flags.
func (h Header) Has(flags byte) bool {
	return h.Flags&flags == flags
}

// Encode serializes h verbatim, including whatever Checksum it
// carries. Callers that need a validly-checksummed wire segment
// should use EncodeChecksummed instead.
func Encode(h Header) []byte {
	b := make([]byte, HeaderLen)
	binary.BigEndian.PutUint16(b[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], h.DstPort)
	binary.BigEndian.PutUint32(b[4:8], h.Seq)
	binary.BigEndian.PutUint32(b[8:12], h.Ack)
	b[12] = h.Flags
	binary.BigEndian.PutUint16(b[13:15], h.Window)
	binary.BigEndian.PutUint16(b[15:17], h.Checksum)
	return b
}

// Decode parses b as a Header. It does not itself validate the
// checksum; Protocol.Demux does, since that needs the payload bytes
// alongside the header (mirroring udp.Decode's split).
func Decode(b []byte) (Header, bool) {
	if len(b) < HeaderLen {
		return Header{}, false
	}
	return Header{
		SrcPort:  binary.BigEndian.Uint16(b[0:2]),
		DstPort:  binary.BigEndian.Uint16(b[2:4]),
		Seq:      binary.BigEndian.Uint32(b[4:8]),
		Ack:      binary.BigEndian.Uint32(b[8:12]),
		Flags:    b[12],
		Window:   binary.BigEndian.Uint16(b[13:15]),
		Checksum: binary.BigEndian.Uint16(b[15:17]),
	}, true
}

// EncodeChecksummed serializes h with payload appended, overwriting
// whatever Checksum h carries with the correct value computed over
// the header (checksum field zeroed) and payload. Unlike UDP's
// checksum (optional, zero means unchecked), TCP always computes and
// validates one (spec §7 "BadChecksum ... (IPv4, TCP)").
func EncodeChecksummed(h Header, payload []byte) []byte {
	h.Checksum = 0
	wire := Encode(h)
	if len(payload) > 0 {
		wire = append(wire, payload...)
	}
	binary.BigEndian.PutUint16(wire[HeaderLen-2:HeaderLen], checksum(wire))
	return wire
}

// checksum is a ones-complement sum over the header (with the
// checksum field zeroed) and payload, the same folding algorithm
// ipv4.checksum and udp.checksum use.
func checksum(headerAndPayload []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(headerAndPayload); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(headerAndPayload[i : i+2]))
	}
	if len(headerAndPayload)%2 == 1 {
		sum += uint32(headerAndPayload[len(headerAndPayload)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
