// Package transport implements the packetizer/fan-out sender (C3) and the
// datagram receiver (C4 receive half) over a plain *net.UDPConn. Grounded on
// a common captureLoop/network send-path idiom (client/network.go): a
// bounded, mutex-guarded FIFO drained by a dedicated sender goroutine,
// non-blocking enqueue that drops the oldest packet when full.
package transport

import (
	"context"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aquawius/aqua-sub000/internal/session"
	"github.com/aquawius/aqua-sub000/internal/wire"
)

// MaxSendQueue bounds the sender's pending-packet FIFO.
const MaxSendQueue = 300

// SenderBatch is how many packets the sender drains per tick.
const SenderBatch = 5

// SenderIdleSleep is how long the sender waits when it has nothing to do.
const SenderIdleSleep = 500 * time.Microsecond

// Sender packetizes PCM byte spans from the capture producer and fans each
// resulting packet out to every live session endpoint.
type Sender struct {
	registry *session.Registry
	conn     *net.UDPConn

	mu     sync.Mutex
	format wire.Format
	queue  [][]byte

	seq atomic.Uint32

	bytesSent    atomic.Uint64
	packetsSent  atomic.Uint64
	droppedTotal atomic.Uint64
}

// NewSender creates a sender bound to conn, fanning packets out to the
// endpoints registry currently considers live.
func NewSender(conn *net.UDPConn, registry *session.Registry, format wire.Format) *Sender {
	return &Sender{
		registry: registry,
		conn:     conn,
		format:   format,
	}
}

// SetFormat updates the format used to packetize subsequently submitted PCM
// spans. Packets already enqueued are unaffected.
func (s *Sender) SetFormat(format wire.Format) {
	s.mu.Lock()
	s.format = format
	s.mu.Unlock()
}

// Submit chunks one PCM byte span into ≤ MaxAudioPayload packets and
// enqueues each. Returns the number of packets
// dropped immediately because the queue was already full.
func (s *Sender) Submit(pcm []byte) (dropped int) {
	s.mu.Lock()
	sampleSize := s.format.Encoding.SampleSize()
	s.mu.Unlock()
	if sampleSize <= 0 {
		return 0
	}

	samplesPerPacket := wire.MaxAudioPayload / sampleSize
	if samplesPerPacket <= 0 {
		return 0
	}
	chunkBytes := samplesPerPacket * sampleSize

	for off := 0; off < len(pcm); off += chunkBytes {
		end := off + chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		payload := pcm[off:end]

		seq := s.seq.Add(1) - 1
		pkt := make([]byte, wire.HeaderSize+len(payload))
		wire.EncodeHeader(pkt, wire.PacketHeader{
			Sequence:    seq,
			TimestampMs: time.Now().UnixMilli(),
		})
		copy(pkt[wire.HeaderSize:], payload)

		if s.enqueue(pkt) {
			dropped++
		}
	}
	return dropped
}

// enqueue appends pkt to the send queue, dropping the oldest entry first if
// the queue is already at MaxSendQueue (head-drop policy). Returns true if a
// packet was dropped to make room.
func (s *Sender) enqueue(pkt []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	droppedOne := false
	if len(s.queue) >= MaxSendQueue {
		s.queue = s.queue[1:]
		droppedOne = true
		s.droppedTotal.Add(1)
	}
	s.queue = append(s.queue, pkt)
	return droppedOne
}

// dequeueBatch removes up to SenderBatch packets from the front of the
// queue.
func (s *Sender) dequeueBatch() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := SenderBatch
	if n > len(s.queue) {
		n = len(s.queue)
	}
	if n == 0 {
		return nil
	}
	batch := make([][]byte, n)
	copy(batch, s.queue[:n])
	s.queue = s.queue[n:]
	return batch
}

// Run drives the sender task until ctx is cancelled ("Sender
// task"). Each tick drains up to SenderBatch packets and fans each out to
// every endpoint in the current live-session snapshot; if there was
// nothing to send, it sleeps SenderIdleSleep before the next pass.
func (s *Sender) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		endpoints := s.registry.LiveEndpoints()
		if len(endpoints) == 0 {
			time.Sleep(SenderIdleSleep)
			continue
		}

		batch := s.dequeueBatch()
		if len(batch) == 0 {
			time.Sleep(SenderIdleSleep)
			continue
		}

		for _, pkt := range batch {
			for _, addr := range endpoints {
				n, err := s.conn.WriteToUDP(pkt, &addr)
				if err != nil {
					log.Printf("[sender] write to %s: %v", addr.String(), err)
					continue
				}
				s.bytesSent.Add(uint64(n))
				s.packetsSent.Add(1)
			}
		}
	}
}

// BytesSent returns the cumulative number of bytes successfully written to
// the socket.
func (s *Sender) BytesSent() uint64 {
	return s.bytesSent.Load()
}

// PacketsSentTotal returns the cumulative number of successful per-endpoint
// packet writes.
func (s *Sender) PacketsSentTotal() uint64 {
	return s.packetsSent.Load()
}

// DroppedTotal returns the cumulative number of packets dropped from the
// head of the send queue on overflow.
func (s *Sender) DroppedTotal() uint64 {
	return s.droppedTotal.Load()
}

// QueueLen returns the current number of packets waiting to be sent.
// Exposed for tests and metrics.
func (s *Sender) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
