package audio

import "github.com/gordonklaus/portaudio"

// paStream abstracts a PortAudio stream so Producer/Consumer can be
// exercised with a fake in tests, following the usual paStream
// interface (client/audio.go).
type paStream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
	Write() error
}

// openCaptureStream, openPlaybackStream and listDevicesFn are swapped out
// in tests to avoid touching real hardware.
var (
	openCaptureStream  = defaultOpenStream
	openPlaybackStream = defaultOpenStream
	listDevicesFn      = portaudio.Devices
)

func defaultOpenStream(params portaudio.StreamParameters, buf []float32) (paStream, error) {
	return portaudio.OpenStream(params, buf)
}
