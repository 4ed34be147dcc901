package audio

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/aquawius/aqua-sub000/internal/playout"
	"github.com/aquawius/aqua-sub000/internal/wire"
)

// Consumer plays a continuous sample stream pulled from the adaptive
// playout buffer through the client's default output device, converting
// the negotiated wire encoding back to the float32 samples portaudio
// expects.
type Consumer struct {
	mu     sync.Mutex
	format wire.Format
	device int

	buffer *playout.Buffer

	stream  paStream
	floats  []float32
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewConsumer creates a playback consumer pulling from buffer. device is a
// portaudio device index, or -1 for the default output device.
func NewConsumer(buffer *playout.Buffer, device int, format wire.Format) *Consumer {
	return &Consumer{buffer: buffer, device: device, format: format}
}

// Start opens and starts the playback stream for the current format.
func (c *Consumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running.Load() {
		return nil
	}

	format := c.format
	devices, err := listDevicesFn()
	if err != nil {
		return fmt.Errorf("audio: list devices: %w", err)
	}
	dev, err := resolveDevice(devices, c.device, portaudio.DefaultOutputDevice)
	if err != nil {
		return fmt.Errorf("audio: resolve output device: %w", err)
	}

	floats := make([]float32, FramesPerBuffer*int(format.Channels))
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: int(format.Channels),
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: FramesPerBuffer,
	}
	stream, err := openPlaybackStream(params, floats)
	if err != nil {
		return fmt.Errorf("audio: open playback stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("audio: start playback stream: %w", err)
	}

	c.stream = stream
	c.floats = floats
	c.stopCh = make(chan struct{})
	c.running.Store(true)

	c.wg.Add(1)
	go func() { defer c.wg.Done(); c.playbackLoop(format, floats) }()

	log.Printf("[audio] playback started on %s (%s)", dev.Name, format)
	return nil
}

// Stop halts the playback stream and waits for the playback goroutine to
// drain its loop before freeing the native stream.
func (c *Consumer) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	close(c.stopCh)

	c.mu.Lock()
	if c.stream != nil {
		c.stream.Stop()
	}
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
	c.mu.Unlock()
}

// Running reports whether the playback stream is currently active.
func (c *Consumer) Running() bool {
	return c.running.Load()
}

// SetFormat updates the format to use on the next Start.
func (c *Consumer) SetFormat(format wire.Format) {
	c.mu.Lock()
	c.format = format
	c.mu.Unlock()
	c.buffer.SetFormat(format)
}

// Reconfigure implements the format-change orchestration:
// record whether playback is active, stop if so, swap in the new format,
// and restart if it was previously active. The adaptive buffer itself is
// never flushed across this call.
func (c *Consumer) Reconfigure(format wire.Format) error {
	wasRunning := c.Running()
	if wasRunning {
		c.Stop()
	}
	c.SetFormat(format)
	if wasRunning {
		return c.Start()
	}
	return nil
}

func (c *Consumer) playbackLoop(format wire.Format, floats []float32) {
	sampleSize := format.Encoding.SampleSize()
	pcm := make([]byte, len(floats)*sampleSize)

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		n := c.buffer.Pull(pcm, len(floats))
		decodeFrame(floats, pcm[:n*sampleSize], format.Encoding)
		for i := n; i < len(floats); i++ {
			floats[i] = 0
		}

		if err := c.stream.Write(); err != nil {
			if c.running.Load() {
				log.Printf("[audio] playback write: %v", err)
			}
			return
		}
	}
}
