package audio

import (
	"math"
	"testing"

	"github.com/aquawius/aqua-sub000/internal/wire"
)

func TestEncodeDecodeSampleRoundTrip(t *testing.T) {
	encodings := []wire.Encoding{
		wire.EncodingF32LE,
		wire.EncodingS16LE,
		wire.EncodingS32LE,
		wire.EncodingS24LE,
		wire.EncodingU8,
	}
	values := []float32{0, 0.5, -0.5, 0.99, -0.99, 1.0, -1.0}

	for _, enc := range encodings {
		buf := make([]byte, enc.SampleSize())
		for _, v := range values {
			encodeSample(buf, enc, v)
			got := decodeSample(buf, enc)
			if math.Abs(float64(got-v)) > 0.02 {
				t.Errorf("%s: round trip %v -> %v, delta too large", enc, v, got)
			}
		}
	}
}

func TestEncodeFrameDecodeFrame(t *testing.T) {
	enc := wire.EncodingS16LE
	samples := []float32{0.1, -0.2, 0.3, -0.4}
	buf := make([]byte, len(samples)*enc.SampleSize())
	encodeFrame(buf, samples, enc)

	out := make([]float32, len(samples))
	decodeFrame(out, buf, enc)

	for i := range samples {
		if math.Abs(float64(out[i]-samples[i])) > 0.01 {
			t.Errorf("sample %d: got %v, want ~%v", i, out[i], samples[i])
		}
	}
}

func TestEncodeSampleClampsOutOfRange(t *testing.T) {
	enc := wire.EncodingS16LE
	buf := make([]byte, enc.SampleSize())
	encodeSample(buf, enc, 5.0)
	if got := decodeSample(buf, enc); got < 0.9 {
		t.Fatalf("expected clamped-to-max value, got %v", got)
	}
	encodeSample(buf, enc, -5.0)
	if got := decodeSample(buf, enc); got > -0.9 {
		t.Fatalf("expected clamped-to-min value, got %v", got)
	}
}
