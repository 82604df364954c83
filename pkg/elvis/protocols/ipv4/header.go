package ipv4

import (
	"encoding/binary"
	"net/netip"

	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/simerrors"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/types"
)

// HeaderLen is the fixed size of the header this package writes: no
// options, IPv4 addresses only (spec §4.4 "version, length, TTL,
// protocol, src, dst, and checksum over the header only").
const HeaderLen = 15

const version4 = 4

// upper-protocol wire codes, mirroring the real IANA assignment for
// the two protocols this stack implements.
const (
	protoUDP byte = 17
	protoTCP byte = 6
)

func protocolByte(id types.ProtocolID) (byte, bool) {
	switch id {
	case types.UDP:
		return protoUDP, true
	case types.TCP:
		return protoTCP, true
	default:
		return 0, false
	}
}

func protocolID(b byte) (types.ProtocolID, bool) {
	switch b {
	case protoUDP:
		return types.UDP, true
	case protoTCP:
		return types.TCP, true
	default:
		return types.ProtocolID{}, false
	}
}

// Header is the parsed form of the fixed header this package prepends
// on send and strips on receive.
type Header struct {
	TotalLength uint16
	TTL         byte
	Protocol    byte
	Src         netip.Addr
	Dst         netip.Addr
}

// Encode serializes h and appends a checksum computed over the
// resulting header bytes with the checksum field zeroed (spec §4.4).
func Encode(h Header) []byte {
	b := make([]byte, HeaderLen)
	b[0] = version4<<4 | (HeaderLen / 4)
	binary.BigEndian.PutUint16(b[1:3], h.TotalLength)
	b[3] = h.TTL
	b[4] = h.Protocol
	src4 := h.Src.As4()
	copy(b[5:9], src4[:])
	dst4 := h.Dst.As4()
	copy(b[9:13], dst4[:])
	binary.BigEndian.PutUint16(b[13:15], checksum(b[:13]))
	return b
}

// checksum is the standard one's-complement sum of 16-bit words,
// folding carries back in, same algorithm real IPv4 uses.
func checksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// Decode parses b as a Header and validates both the version field
// and the trailing checksum, returning simerrors.BadChecksum on
// either failure (spec §4.4 "on invalid checksum drops").
func Decode(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, simerrors.BadChecksum
	}
	if b[0]>>4 != version4 {
		return Header{}, simerrors.BadChecksum
	}
	want := binary.BigEndian.Uint16(b[13:15])
	if got := checksum(b[:13]); got != want {
		return Header{}, simerrors.BadChecksum
	}
	var h Header
	h.TotalLength = binary.BigEndian.Uint16(b[1:3])
	h.TTL = b[3]
	h.Protocol = b[4]
	src, _ := netip.AddrFromSlice(b[5:9])
	h.Src = src.Unmap()
	dst, _ := netip.AddrFromSlice(b[9:13])
	h.Dst = dst.Unmap()
	return h, nil
}
