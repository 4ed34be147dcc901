package wire

import "testing"

// header round-trip.
func TestHeaderRoundTrip(t *testing.T) {
	cases := []PacketHeader{
		{Sequence: 0, TimestampMs: 0},
		{Sequence: 1000, TimestampMs: 1_700_000_000_123},
		{Sequence: 0xFFFFFFFF, TimestampMs: 1},
	}
	for _, h := range cases {
		buf := make([]byte, HeaderSize)
		EncodeHeader(buf, h)
		got := DecodeHeader(buf)
		if got != h {
			t.Fatalf("round-trip mismatch: want %+v, got %+v", h, got)
		}
	}
}

func TestHeaderBigEndian(t *testing.T) {
	buf := make([]byte, HeaderSize)
	EncodeHeader(buf, PacketHeader{Sequence: 0x01020304, TimestampMs: 0x0102030405060708})
	want := []byte{0x01, 0x02, 0x03, 0x04, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("byte %d: want %#x, got %#x", i, want[i], buf[i])
		}
	}
}

// modular ordering, including wraparound.
func TestSeqLessWraparound(t *testing.T) {
	tests := []struct {
		a, b uint32
		want bool
	}{
		{1000, 1001, true},
		{1001, 1000, false},
		{0xFFFFFFFE, 0xFFFFFFFF, true},
		{0xFFFFFFFF, 0x00000000, true},
		{0x00000000, 0xFFFFFFFF, false},
		{5, 5, false},
	}
	for _, tc := range tests {
		if got := SeqLess(tc.a, tc.b); got != tc.want {
			t.Errorf("SeqLess(%d, %d) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
