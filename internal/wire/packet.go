package wire

import "encoding/binary"

const (
	// HeaderSize is the fixed, packed big-endian header prefixing every
	// audio datagram: 4 bytes sequence number + 8 bytes timestamp.
	HeaderSize = 12

	// MTUSize is the assumed path MTU budget for one datagram.
	MTUSize = 1400

	// MaxAudioPayload is the maximum payload bytes available per packet
	// once the header is accounted for.
	MaxAudioPayload = MTUSize - HeaderSize

	// RecvBufferSize is the scratch buffer size for one inbound datagram.
	RecvBufferSize = 1500
)

// PacketHeader is the decoded form of the 12-byte wire header.
type PacketHeader struct {
	Sequence    uint32
	TimestampMs int64
}

// EncodeHeader writes h into the first HeaderSize bytes of dst, big-endian,
// packed (no padding). dst must be at least HeaderSize bytes.
func EncodeHeader(dst []byte, h PacketHeader) {
	binary.BigEndian.PutUint32(dst[0:4], h.Sequence)
	binary.BigEndian.PutUint64(dst[4:12], uint64(h.TimestampMs))
}

// DecodeHeader reads a PacketHeader from the first HeaderSize bytes of src.
// The caller must ensure len(src) >= HeaderSize.
func DecodeHeader(src []byte) PacketHeader {
	return PacketHeader{
		Sequence:    binary.BigEndian.Uint32(src[0:4]),
		TimestampMs: int64(binary.BigEndian.Uint64(src[4:12])),
	}
}

// SeqLess reports whether a is modularly older than b, i.e.
// (int32)(a - b) < 0. This is the single comparator used by the adaptive
// playout buffer's ordering and gap arithmetic.
func SeqLess(a, b uint32) bool {
	return int32(a-b) < 0
}

// SeqDistance returns the modular forward distance from a to b (i.e. how
// many increments of a reach b), always in [0, 2^32).
func SeqDistance(a, b uint32) uint32 {
	return b - a
}
