// Package audio bridges the opaque platform capture/playback devices
// encoding is kept separate from the PCM byte spans the transport
// layer moves around, using a portaudio-based
// AudioEngine (client/audio.go): OpenStream with a single interleaved
// float32 buffer shared between the native stream and the capture/playback
// goroutine.
package audio

import (
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/aquawius/aqua-sub000/internal/wire"
)

// FramesPerBuffer is the portaudio callback period, in frames. 20ms at
// 48kHz, a common cadence for a capture loop of this shape.
const FramesPerBuffer = 960

// Sink receives PCM byte spans produced by a Producer. The transport
// sender satisfies this with Submit.
type Sink interface {
	Submit(pcm []byte) (dropped int)
}

// Producer captures the server's default audio output (loopback) and
// submits encoded PCM spans to a Sink, converting each native float32
// frame into the negotiated wire encoding.
type Producer struct {
	mu     sync.Mutex
	format wire.Format
	device int // portaudio device index, or -1 for default

	stream  paStream
	floats  []float32
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	sink Sink

	peakBits atomic.Uint32
	peakMu   sync.Mutex
	peakFn   func(float32)
}

// NewProducer creates a producer that will submit encoded PCM to sink.
// device is a portaudio device index, or -1 to use the default input
// device (the typical loopback/monitor source on the server host).
func NewProducer(sink Sink, device int, format wire.Format) *Producer {
	return &Producer{sink: sink, device: device, format: format}
}

// PreferredFormat reports the format this producer would like to capture
// at: its configured format, the same value CurrentFormat returns (which
// is what Connect responses carry as server_format).
func (p *Producer) PreferredFormat() wire.Format {
	return p.CurrentFormat()
}

// SetPeakCallback registers fn to be invoked with the peak absolute sample
// value of every captured buffer, in the same spirit as an
// AudioPeakCallback. Pass nil to disable.
func (p *Producer) SetPeakCallback(fn func(float32)) {
	p.peakMu.Lock()
	p.peakFn = fn
	p.peakMu.Unlock()
}

// PeakLevel returns the most recently observed peak absolute sample value,
// for the diagnostics surface's peak-meter field.
func (p *Producer) PeakLevel() float32 {
	return math.Float32frombits(p.peakBits.Load())
}

// CurrentFormat reports the format currently being captured. Satisfies
// control.FormatSource.
func (p *Producer) CurrentFormat() wire.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format
}

// Start opens and starts the capture stream for the current format.
func (p *Producer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running.Load() {
		return nil
	}

	format := p.format
	devices, err := listDevicesFn()
	if err != nil {
		return fmt.Errorf("audio: list devices: %w", err)
	}
	dev, err := resolveDevice(devices, p.device, portaudio.DefaultInputDevice)
	if err != nil {
		return fmt.Errorf("audio: resolve input device: %w", err)
	}

	floats := make([]float32, FramesPerBuffer*int(format.Channels))
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: int(format.Channels),
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: FramesPerBuffer,
	}
	stream, err := openCaptureStream(params, floats)
	if err != nil {
		return fmt.Errorf("audio: open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("audio: start capture stream: %w", err)
	}

	p.stream = stream
	p.floats = floats
	p.stopCh = make(chan struct{})
	p.running.Store(true)

	p.wg.Add(1)
	go func() { defer p.wg.Done(); p.captureLoop(format, floats) }()

	log.Printf("[audio] capture started on %s (%s)", dev.Name, format)
	return nil
}

// Stop halts the capture stream and waits for the capture goroutine to
// exit, following a stop-then-join sequence so the native
// stream is never freed while captureLoop is still touching it.
func (p *Producer) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)

	p.mu.Lock()
	if p.stream != nil {
		p.stream.Stop()
	}
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	if p.stream != nil {
		p.stream.Close()
		p.stream = nil
	}
	p.mu.Unlock()
}

// Running reports whether the capture stream is currently active.
func (p *Producer) Running() bool {
	return p.running.Load()
}

// SetFormat updates the format to use on the next Start. A running
// capture keeps the format it was started with until it is stopped and
// started again.
func (p *Producer) SetFormat(format wire.Format) {
	p.mu.Lock()
	p.format = format
	p.mu.Unlock()
}

func (p *Producer) captureLoop(format wire.Format, floats []float32) {
	sampleSize := format.Encoding.SampleSize()
	pcm := make([]byte, len(floats)*sampleSize)

	for p.running.Load() {
		if err := p.stream.Read(); err != nil {
			if p.running.Load() {
				log.Printf("[audio] capture read: %v", err)
			}
			return
		}
		encodeFrame(pcm, floats, format.Encoding)
		p.reportPeak(floats)
		if dropped := p.sink.Submit(pcm); dropped > 0 {
			log.Printf("[audio] capture: %d packets dropped by send queue", dropped)
		}
	}
}

func (p *Producer) reportPeak(floats []float32) {
	var peak float32
	for _, v := range floats {
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	p.peakBits.Store(math.Float32bits(peak))

	p.peakMu.Lock()
	fn := p.peakFn
	p.peakMu.Unlock()
	if fn != nil {
		fn(peak)
	}
}

func resolveDevice(devices []*portaudio.DeviceInfo, idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return fallback()
}
