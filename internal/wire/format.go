// Package wire defines the audio format descriptor and the on-the-wire UDP
// packet header shared by every other component in the transport pipeline.
package wire

import "fmt"

// Encoding identifies a PCM sample encoding. Values match the field numbers
// the control-plane wire schema reserves for them.
type Encoding uint32

const (
	EncodingInvalid Encoding = 0
	EncodingS16LE   Encoding = 1
	EncodingS32LE   Encoding = 2
	EncodingF32LE   Encoding = 3
	EncodingS24LE   Encoding = 4
	EncodingU8      Encoding = 5
)

func (e Encoding) String() string {
	switch e {
	case EncodingS16LE:
		return "s16le"
	case EncodingS32LE:
		return "s32le"
	case EncodingF32LE:
		return "f32le"
	case EncodingS24LE:
		return "s24le"
	case EncodingU8:
		return "u8"
	default:
		return "invalid"
	}
}

// ParseEncoding maps a CLI/user-facing name to an Encoding.
func ParseEncoding(name string) (Encoding, error) {
	switch name {
	case "s16le":
		return EncodingS16LE, nil
	case "s32le":
		return EncodingS32LE, nil
	case "f32le":
		return EncodingF32LE, nil
	case "s24le":
		return EncodingS24LE, nil
	case "u8":
		return EncodingU8, nil
	default:
		return EncodingInvalid, fmt.Errorf("wire: unknown encoding %q", name)
	}
}

// CanonicalBitDepth returns the bit depth an encoding must carry, or 0 for
// an unrecognised encoding.
func (e Encoding) CanonicalBitDepth() uint32 {
	switch e {
	case EncodingU8:
		return 8
	case EncodingS16LE:
		return 16
	case EncodingS24LE:
		return 24
	case EncodingS32LE, EncodingF32LE:
		return 32
	default:
		return 0
	}
}

// SampleSize returns the number of bytes occupied by one sample (one
// channel, one frame) of this encoding. Every other module must size its
// per-sample math off this rather than assuming float32, matching the
// resolution of the sample-size Open Question.
func (e Encoding) SampleSize() int {
	return int(e.CanonicalBitDepth() / 8)
}

// Format is the (encoding, channels, rate, bit depth) tuple that governs the
// wire payload layout. Equality is structural across all four fields.
type Format struct {
	Encoding   Encoding
	Channels   uint32
	SampleRate uint32
	BitDepth   uint32
}

const (
	MinChannels   = 1
	MaxChannels   = 8
	MinSampleRate = 8000
	MaxSampleRate = 384000
)

// Valid reports whether f is a well-formed, negotiable format.
func (f Format) Valid() bool {
	if f.Encoding == EncodingInvalid {
		return false
	}
	if f.Channels < MinChannels || f.Channels > MaxChannels {
		return false
	}
	if f.SampleRate < MinSampleRate || f.SampleRate > MaxSampleRate {
		return false
	}
	return f.BitDepth == f.Encoding.CanonicalBitDepth()
}

// Equal reports structural equality across all four fields.
func (f Format) Equal(other Format) bool {
	return f.Encoding == other.Encoding &&
		f.Channels == other.Channels &&
		f.SampleRate == other.SampleRate &&
		f.BitDepth == other.BitDepth
}

// FrameSize returns the byte size of one interleaved sample frame (all
// channels), or 0 if the encoding is invalid or there are no channels.
func (f Format) FrameSize() int {
	return f.Encoding.SampleSize() * int(f.Channels)
}

// String renders a Format as "encoding/channels ch/rate Hz", e.g.
// "s16le/2ch/48000Hz".
func (f Format) String() string {
	return fmt.Sprintf("%s/%dch/%dHz", f.Encoding, f.Channels, f.SampleRate)
}

// NewFormat builds a Format from an encoding, channel count and sample rate,
// deriving the canonical bit depth.
func NewFormat(enc Encoding, channels, sampleRate uint32) Format {
	return Format{
		Encoding:   enc,
		Channels:   channels,
		SampleRate: sampleRate,
		BitDepth:   enc.CanonicalBitDepth(),
	}
}
