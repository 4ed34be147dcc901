package audio

import (
	"encoding/binary"
	"math"

	"github.com/aquawius/aqua-sub000/internal/wire"
)

// clamp restricts v to [-1.0, 1.0].
func clamp(v float32) float32 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}

// encodeSample writes one sample's worth of bytes for enc to the start of
// dst, encoding the normalized float32 v (range [-1,1]).
func encodeSample(dst []byte, enc wire.Encoding, v float32) {
	v = clamp(v)
	switch enc {
	case wire.EncodingF32LE:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
	case wire.EncodingS16LE:
		binary.LittleEndian.PutUint16(dst, uint16(int16(v*32767)))
	case wire.EncodingS32LE:
		binary.LittleEndian.PutUint32(dst, uint32(int32(v*2147483647)))
	case wire.EncodingS24LE:
		s := int32(v * 8388607)
		dst[0] = byte(s)
		dst[1] = byte(s >> 8)
		dst[2] = byte(s >> 16)
	case wire.EncodingU8:
		dst[0] = byte(int32(v*127) + 128)
	}
}

// decodeSample reads one sample's worth of bytes in enc and returns it as a
// normalized float32.
func decodeSample(src []byte, enc wire.Encoding) float32 {
	switch enc {
	case wire.EncodingF32LE:
		return math.Float32frombits(binary.LittleEndian.Uint32(src))
	case wire.EncodingS16LE:
		return float32(int16(binary.LittleEndian.Uint16(src))) / 32768
	case wire.EncodingS32LE:
		return float32(int32(binary.LittleEndian.Uint32(src))) / 2147483648
	case wire.EncodingS24LE:
		s := int32(src[0]) | int32(src[1])<<8 | int32(src[2])<<16
		if s&0x800000 != 0 {
			s |= ^0xFFFFFF
		}
		return float32(s) / 8388608
	case wire.EncodingU8:
		return (float32(src[0]) - 128) / 128
	default:
		return 0
	}
}

// encodeFrame converts an interleaved float32 frame into the wire
// representation of enc, writing one encoded value per element of samples.
func encodeFrame(dst []byte, samples []float32, enc wire.Encoding) {
	sampleSize := enc.SampleSize()
	for i, v := range samples {
		encodeSample(dst[i*sampleSize:], enc, v)
	}
}

// decodeFrame converts wire-encoded PCM bytes into an interleaved float32
// frame. len(src) must be a multiple of enc's sample size.
func decodeFrame(dst []float32, src []byte, enc wire.Encoding) {
	sampleSize := enc.SampleSize()
	n := len(src) / sampleSize
	for i := 0; i < n && i < len(dst); i++ {
		dst[i] = decodeSample(src[i*sampleSize:], enc)
	}
}
