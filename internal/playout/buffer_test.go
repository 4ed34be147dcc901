package playout

import (
	"bytes"
	"testing"

	"github.com/aquawius/aqua-sub000/internal/wire"
)

// f32Format is used throughout: 1 channel, F32LE, so SampleSize() == 4 and
// samples line up 1:1 with bytes/4.
var f32Format = wire.NewFormat(wire.EncodingF32LE, 1, 48000)

// makePacket builds a packet with the given sequence and samplesPerPacket
// 4-byte samples, each sample's bytes all equal to a marker byte derived
// from the sequence so payload identity is easy to assert on.
func makePacket(seq uint32, samplesPerPacket int) []byte {
	marker := byte(seq)
	buf := make([]byte, wire.HeaderSize+samplesPerPacket*4)
	wire.EncodeHeader(buf, wire.PacketHeader{Sequence: seq, TimestampMs: 0})
	for i := wire.HeaderSize; i < len(buf); i++ {
		buf[i] = marker
	}
	return buf
}

// in-order stream.
func TestInOrderStream(t *testing.T) {
	b := New(f32Format)
	const n = 200
	const samplesPerPacket = 256
	for i := 0; i < n; i++ {
		if !b.Push(makePacket(uint32(1000+i), samplesPerPacket)) {
			t.Fatalf("push %d rejected", 1000+i)
		}
	}

	out := make([]byte, n*samplesPerPacket*4)
	filled := b.Pull(out, n*samplesPerPacket)
	if filled != n*samplesPerPacket {
		t.Fatalf("filled = %d, want %d", filled, n*samplesPerPacket)
	}

	for i := 0; i < n; i++ {
		want := bytes.Repeat([]byte{byte(1000 + i)}, samplesPerPacket*4)
		got := out[i*samplesPerPacket*4 : (i+1)*samplesPerPacket*4]
		if !bytes.Equal(got, want) {
			t.Fatalf("segment %d mismatch", i)
		}
	}
	if b.PullExpectedSeq() != 1200 {
		t.Fatalf("pullExpectedSeq = %d, want 1200", b.PullExpectedSeq())
	}
	if b.Len() != 0 {
		t.Fatalf("buffer not drained: len=%d", b.Len())
	}
}

// reordering within window.
func TestReorderingWithinWindow(t *testing.T) {
	b := New(f32Format)
	const samples = 128
	b.Push(makePacket(1000, samples))
	b.Push(makePacket(1002, samples))
	b.Push(makePacket(1001, samples))

	out := make([]byte, 3*samples*4)
	filled := b.Pull(out, 3*samples)
	if filled != 3*samples {
		t.Fatalf("filled = %d, want %d", filled, 3*samples)
	}
	for i, seq := range []uint32{1000, 1001, 1002} {
		want := bytes.Repeat([]byte{byte(seq)}, samples*4)
		got := out[i*samples*4 : (i+1)*samples*4]
		if !bytes.Equal(got, want) {
			t.Fatalf("segment %d (seq %d) mismatch", i, seq)
		}
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer at end, len=%d", b.Len())
	}
}

// single-packet loss, small gap.
func TestSinglePacketLossSmallGap(t *testing.T) {
	b := New(f32Format)
	const samples = 64
	b.Push(makePacket(1000, samples))
	for seq := uint32(1002); seq <= 1010; seq++ {
		b.Push(makePacket(seq, samples))
	}

	out := make([]byte, 11*samples*4)
	b.Pull(out, 11*samples)

	if b.MutedCount() != 1 {
		t.Fatalf("after first pull: mutedCount = %d, want 1", b.MutedCount())
	}
	if b.PullExpectedSeq() != 1001 {
		t.Fatalf("after first pull: pullExpectedSeq = %d, want 1001", b.PullExpectedSeq())
	}

	out2 := make([]byte, 11*samples*4)
	b.Pull(out2, 11*samples)
	if b.MutedCount() != 2 {
		t.Fatalf("after second pull: mutedCount = %d, want 2", b.MutedCount())
	}
	if b.PullExpectedSeq() != 1002 {
		t.Fatalf("after second pull: pullExpectedSeq = %d, want 1002", b.PullExpectedSeq())
	}
}

// large gap jump.
func TestLargeGapJump(t *testing.T) {
	b := New(f32Format)
	const samples = 64
	b.Push(makePacket(1000, samples))
	b.Push(makePacket(1020, samples))

	out := make([]byte, samples*4)
	b.Pull(out, samples)
	want := bytes.Repeat([]byte{byte(1000 & 0xFF)}, samples*4)
	if !bytes.Equal(out, want) {
		t.Fatalf("first pull payload mismatch")
	}

	out2 := make([]byte, samples*4)
	filled := b.Pull(out2, samples)
	if filled != samples {
		t.Fatalf("second pull filled = %d, want %d", filled, samples)
	}
	want2 := bytes.Repeat([]byte{byte(1020 & 0xFF)}, samples*4)
	if !bytes.Equal(out2, want2) {
		t.Fatalf("second pull payload mismatch, got first bytes %v", out2[:4])
	}
	if b.PullExpectedSeq() != 1021 {
		t.Fatalf("pullExpectedSeq = %d, want 1021", b.PullExpectedSeq())
	}
}

// sequence wrap.
func TestSequenceWrap(t *testing.T) {
	b := New(f32Format)
	const samples = 16
	b.Push(makePacket(0xFFFFFFFE, samples))
	b.Push(makePacket(0xFFFFFFFF, samples))
	b.Push(makePacket(0x00000000, samples))

	out := make([]byte, 3*samples*4)
	filled := b.Pull(out, 3*samples)
	if filled != 3*samples {
		t.Fatalf("filled = %d, want %d", filled, 3*samples)
	}
	for i, seq := range []uint32{0xFFFFFFFE, 0xFFFFFFFF, 0x00000000} {
		want := bytes.Repeat([]byte{byte(seq)}, samples*4)
		got := out[i*samples*4 : (i+1)*samples*4]
		if !bytes.Equal(got, want) {
			t.Fatalf("segment %d (seq %#x) mismatch", i, seq)
		}
	}
}

// bounded memory after every push.
func TestBoundedMemory(t *testing.T) {
	b := New(f32Format)
	for i := 0; i < MaxMapSize+100; i++ {
		b.Push(makePacket(uint32(i), 4))
		if b.Len() > MaxMapSize {
			t.Fatalf("buffer grew beyond MaxMapSize at i=%d: len=%d", i, b.Len())
		}
	}
}

func TestPreRollSilence(t *testing.T) {
	b := New(f32Format)
	out := bytes.Repeat([]byte{0xAA}, 64)
	filled := b.Pull(out, 16)
	if filled != 16 {
		t.Fatalf("filled = %d, want 16", filled)
	}
	for _, v := range out {
		if v != 0 {
			t.Fatal("expected all-zero pre-roll silence")
		}
	}
}

func TestExpiredPushRejected(t *testing.T) {
	b := New(f32Format)
	b.Push(makePacket(1000, 8))
	out := make([]byte, 8*4)
	b.Pull(out, 8) // advances pullExpectedSeq to 1001

	if b.Push(makePacket(999, 8)) {
		t.Fatal("expected push of already-passed sequence to be rejected")
	}
}

func TestDuplicatePushRejected(t *testing.T) {
	b := New(f32Format)
	if !b.Push(makePacket(1000, 8)) {
		t.Fatal("first push should be accepted")
	}
	if b.Push(makePacket(1000, 8)) {
		t.Fatal("duplicate push should be rejected")
	}
}

func TestMalformedPacketTooShort(t *testing.T) {
	b := New(f32Format)
	if b.Push([]byte{1, 2, 3}) {
		t.Fatal("expected short packet to be rejected")
	}
}
