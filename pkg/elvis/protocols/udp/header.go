package udp

import "encoding/binary"

// HeaderLen is UDP's fixed 8-byte header: src port, dst port, length,
// checksum (spec §4.4).
const HeaderLen = 8

// Header is the parsed form of the 8-byte header this package
// prepends on send and strips on receive.
type Header struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16 // zero means "not checked", per spec §4.4
}

// Encode serializes h.
func Encode(h Header) []byte {
	b := make([]byte, HeaderLen)
	binary.BigEndian.PutUint16(b[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], h.DstPort)
	binary.BigEndian.PutUint16(b[4:6], h.Length)
	binary.BigEndian.PutUint16(b[6:8], h.Checksum)
	return b
}

// Decode parses b as a Header. It does not itself validate length or
// checksum; Protocol.Demux does, since both checks need the payload
// bytes alongside the header.
func Decode(b []byte) (Header, bool) {
	if len(b) < HeaderLen {
		return Header{}, false
	}
	return Header{
		SrcPort:  binary.BigEndian.Uint16(b[0:2]),
		DstPort:  binary.BigEndian.Uint16(b[2:4]),
		Length:   binary.BigEndian.Uint16(b[4:6]),
		Checksum: binary.BigEndian.Uint16(b[6:8]),
	}, true
}

// checksum is a ones-complement sum over the header (with the
// checksum field zeroed) and payload, the same folding algorithm
// ipv4.checksum uses. Real UDP sums a pseudo-header of IP addresses
// too; the core's checksum is advisory rather than wire-compatible,
// so that refinement is not modeled.
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
