package audio

import (
	"sync"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/aquawius/aqua-sub000/internal/wire"
)

// fakeStream is a paStream that fills/drains a shared float32 buffer
// instead of touching real hardware.
type fakeStream struct {
	buf     []float32
	started bool
	closed  bool

	mu      sync.Mutex
	stopped chan struct{}
}

func newFakeStream(buf []float32) *fakeStream {
	return &fakeStream{buf: buf, stopped: make(chan struct{})}
}

func (f *fakeStream) Start() error { f.started = true; return nil }
func (f *fakeStream) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.stopped:
	default:
		close(f.stopped)
	}
	return nil
}
func (f *fakeStream) Close() error { f.closed = true; return nil }
func (f *fakeStream) Read() error {
	select {
	case <-f.stopped:
		return errStreamStopped
	default:
	}
	for i := range f.buf {
		f.buf[i] = 0.25
	}
	return nil
}
func (f *fakeStream) Write() error {
	select {
	case <-f.stopped:
		return errStreamStopped
	default:
	}
	return nil
}

type errStreamStoppedType struct{}

func (errStreamStoppedType) Error() string { return "fake stream stopped" }

var errStreamStopped error = errStreamStoppedType{}

type collectingSink struct {
	mu  sync.Mutex
	all [][]byte
}

func (s *collectingSink) Submit(pcm []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.all = append(s.all, cp)
	return 0
}

func (s *collectingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.all)
}

func withFakeDevices(t *testing.T) {
	t.Helper()
	orig := listDevicesFn
	listDevicesFn = func() ([]*portaudio.DeviceInfo, error) {
		return []*portaudio.DeviceInfo{{Name: "fake"}}, nil
	}
	t.Cleanup(func() { listDevicesFn = orig })
}

func TestProducerStartStopSubmitsFrames(t *testing.T) {
	withFakeDevices(t)

	origCapture := openCaptureStream
	var captured *fakeStream
	openCaptureStream = func(params portaudio.StreamParameters, buf []float32) (paStream, error) {
		captured = newFakeStream(buf)
		return captured, nil
	}
	defer func() { openCaptureStream = origCapture }()

	sink := &collectingSink{}
	format := wire.NewFormat(wire.EncodingS16LE, 1, 48000)
	p := NewProducer(sink, 0, format)

	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !p.Running() {
		t.Fatal("expected producer to report running")
	}

	deadline := time.Now().Add(time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if sink.count() == 0 {
		t.Fatal("expected at least one submitted frame")
	}

	p.Stop()
	if p.Running() {
		t.Fatal("expected producer to report stopped")
	}
	if !captured.closed {
		t.Fatal("expected stream to be closed on stop")
	}
}

func TestProducerReportsPeakLevel(t *testing.T) {
	withFakeDevices(t)

	origCapture := openCaptureStream
	openCaptureStream = func(params portaudio.StreamParameters, buf []float32) (paStream, error) {
		return newFakeStream(buf), nil
	}
	defer func() { openCaptureStream = origCapture }()

	sink := &collectingSink{}
	format := wire.NewFormat(wire.EncodingS16LE, 1, 48000)
	p := NewProducer(sink, 0, format)

	var mu sync.Mutex
	var callbackPeak float32
	p.SetPeakCallback(func(peak float32) {
		mu.Lock()
		callbackPeak = peak
		mu.Unlock()
	})

	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	deadline := time.Now().Add(time.Second)
	for p.PeakLevel() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if p.PeakLevel() != 0.25 {
		t.Fatalf("peak level: got %v, want 0.25", p.PeakLevel())
	}

	mu.Lock()
	got := callbackPeak
	mu.Unlock()
	if got != 0.25 {
		t.Fatalf("callback peak: got %v, want 0.25", got)
	}
}
