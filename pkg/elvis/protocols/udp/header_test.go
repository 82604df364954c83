package udp

import "testing"

func TestEncodeDecode_RoundTrip(t *testing.T) {
	h := Header{SrcPort: 5000, DstPort: 80, Length: HeaderLen + 4, Checksum: 0xBEEF}
	b := Encode(h)
	if len(b) != HeaderLen {
		t.Fatalf("expected %d bytes, got %d", HeaderLen, len(b))
	}
	got, ok := Decode(b)
	if !ok {
		t.Fatal("expected successful decode")
	}
	if got != h {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, h)
	}
}

func TestDecode_RejectsShortPacket(t *testing.T) {
	if _, ok := Decode([]byte{1, 2, 3}); ok {
		t.Fatal("expected decode to fail on short input")
	}
}
