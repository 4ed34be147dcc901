// Package playout implements the adaptive jitter-tolerant playout buffer
// (C5): the single reordering boundary between a jittered, lossy, possibly
// reordered UDP datagram stream and the continuous sample stream a playback
// device pulls from. Grounded on the client-side jitter buffer idiom in the
// teacher project, generalized from a fixed-depth priming ring to the
// modular sequence-ordered map the original aqua-sub adaptive_buffer uses.
package playout

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/aquawius/aqua-sub000/internal/wire"
)

const (
	// MaxMapSize bounds the number of buffered packets.
	MaxMapSize = 500

	// MaxAllowedGap is the modular distance beyond which a miss is
	// considered unworthy of waiting for (a large-gap jump).
	MaxAllowedGap = 10

	// latencyLogBatch is how many samples of push->pull latency accumulate
	// before the mean is logged and the accumulator reset.
	latencyLogBatch = 1000
)

// Buffer is the adaptive playout buffer. Push and pull are mutually
// exclusive under a single lock (§4.5.3): no external observer ever sees a
// half-advanced pointer.
type Buffer struct {
	mu sync.Mutex

	format wire.Format

	packets map[uint32][]byte // sequence -> raw packet bytes (header + payload)

	pushBaseSeq     uint32
	pullExpectedSeq uint32
	initialized     bool

	lastPullRemains []byte
	mutedCount      int

	latencies    []int64
	latencyCount int
}

// New creates an adaptive playout buffer for the given negotiated format.
// The format determines the per-sample byte width used throughout Pull —
// rather than assuming a fixed sample width.
func New(format wire.Format) *Buffer {
	return &Buffer{
		format:  format,
		packets: make(map[uint32][]byte),
	}
}

// SetFormat updates the sample width used by Pull after a format-change
// renegotiation. The buffered map is intentionally left untouched: the
// adaptive buffer is not flushed across a format change.
func (b *Buffer) SetFormat(format wire.Format) {
	b.mu.Lock()
	b.format = format
	b.mu.Unlock()
}

// Push inserts one received packet (header + payload, as it arrived off the
// wire) into the buffer. Returns false if the packet was rejected
// (malformed, expired, or a duplicate).
func (b *Buffer) Push(packet []byte) bool {
	if len(packet) < wire.HeaderSize {
		log.Printf("[playout] drop: packet shorter than header (%d bytes)", len(packet))
		return false
	}
	hdr := wire.DecodeHeader(packet)
	seq := hdr.Sequence

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		b.pushBaseSeq = seq
		b.pullExpectedSeq = seq
		b.initialized = true
	}

	if wire.SeqLess(seq, b.pullExpectedSeq) {
		return false // EXPIRED: consumer has already moved past this sequence
	}
	if _, dup := b.packets[seq]; dup {
		return false // DUP
	}

	b.packets[seq] = packet

	// Base-regression rule: kept
	// as specified. A late arrival older than the current base, but not
	// older than what the puller still wants, drags the base backward so a
	// stalled puller can resync to the oldest useful packet.
	if wire.SeqLess(seq, b.pushBaseSeq) && !wire.SeqLess(seq, b.pullExpectedSeq) {
		b.pushBaseSeq = seq
	}

	for len(b.packets) > MaxMapSize {
		evicted := b.lowestKey()
		delete(b.packets, evicted)
		if evicted == b.pushBaseSeq {
			b.pushBaseSeq = b.lowestKeyOrZero()
		}
	}

	return true
}

// Pull fills output (need_samples * the current encoding's SampleSize()
// bytes) with the next continuous stretch of samples, silence-filling any
// gap, and returns the number of samples actually filled (need_samples,
// or fewer only when output is shorter than that — the demanded span is
// always fully written, padding with silence as needed).
func (b *Buffer) Pull(output []byte, needSamples int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	frameSize := b.format.Encoding.SampleSize()
	if frameSize <= 0 {
		frameSize = 4 // defensive: an unset/invalid format still produces silence
	}
	need := needSamples * frameSize
	if len(output) < need {
		need = len(output)
	}

	if !b.initialized {
		zero(output[:need])
		return need / frameSize
	}

	filled := 0

	// Drain any tail left over from a previous pull whose packet exceeded
	// that pull's demand.
	if len(b.lastPullRemains) > 0 {
		n := copy(output[filled:need], b.lastPullRemains)
		filled += n
		if n >= len(b.lastPullRemains) {
			b.lastPullRemains = nil
		} else {
			b.lastPullRemains = b.lastPullRemains[n:]
		}
	}

	// Catch-up sync: the puller fell behind the sliding window.
	if wire.SeqLess(b.pullExpectedSeq, b.pushBaseSeq) {
		b.pullExpectedSeq = b.pushBaseSeq
	}

	for filled < need {
		pkt, hit := b.packets[b.pullExpectedSeq]
		if hit {
			if len(pkt) < wire.HeaderSize {
				delete(b.packets, b.pullExpectedSeq)
				b.pullExpectedSeq++
				continue
			}

			hdr := wire.DecodeHeader(pkt)
			b.recordLatency(hdr.TimestampMs)

			payload := pkt[wire.HeaderSize:]
			if len(payload)%frameSize != 0 {
				log.Printf("[playout] drop seq %d: payload %d not a multiple of frame size %d", b.pullExpectedSeq, len(payload), frameSize)
				delete(b.packets, b.pullExpectedSeq)
				b.pullExpectedSeq++
				continue
			}

			remaining := need - filled
			n := len(payload)
			if n > remaining {
				n = remaining
			}
			copy(output[filled:filled+n], payload[:n])
			filled += n

			if n < len(payload) {
				tail := make([]byte, len(payload)-n)
				copy(tail, payload[n:])
				b.lastPullRemains = tail
			}

			delete(b.packets, b.pullExpectedSeq)
			b.pullExpectedSeq++
			continue
		}

		// Miss: find the next-greater key by modular order.
		nextSeq, found := b.nextKeyAfter(b.pullExpectedSeq)
		if !found {
			// Buffer empty: emit silence for the rest of this pull and
			// leave the expected pointer where it is — a fresh packet may
			// still be the one expected (§4.5.4).
			zero(output[filled:need])
			filled = need
			break
		}

		gap := wire.SeqDistance(b.pullExpectedSeq, nextSeq)
		if gap > MaxAllowedGap {
			b.pullExpectedSeq = nextSeq
			continue
		}

		// Small gap: fill the rest of this pull with silence and bound how
		// fast we skip over the hole (one seq per two pulls) so late
		// arrivals get a chance to land.
		zero(output[filled:need])
		filled = need
		b.mutedCount++
		if b.mutedCount%2 == 0 {
			b.pullExpectedSeq++
		}
		break
	}

	return filled / frameSize
}

// lowestKey returns the modularly-lowest key currently present. Caller must
// hold b.mu and must only call this when len(b.packets) > 0.
func (b *Buffer) lowestKey() uint32 {
	keys := b.sortedKeys()
	return keys[0]
}

// lowestKeyOrZero returns the modularly-lowest key, or 0 if the map is empty.
func (b *Buffer) lowestKeyOrZero() uint32 {
	if len(b.packets) == 0 {
		return 0
	}
	return b.lowestKey()
}

// nextKeyAfter returns the modularly-nearest key at or after from, using
// from's own relative ordering as the pivot (so wraparound is handled
// correctly): among all keys, the one with the smallest forward distance
// from `from`.
func (b *Buffer) nextKeyAfter(from uint32) (uint32, bool) {
	if len(b.packets) == 0 {
		return 0, false
	}
	var best uint32
	bestDist := ^uint32(0)
	found := false
	for k := range b.packets {
		d := wire.SeqDistance(from, k)
		if !found || d < bestDist {
			best = k
			bestDist = d
			found = true
		}
	}
	return best, found
}

// sortedKeys returns all buffered keys ordered by the modular comparator,
// pivoted at pushBaseSeq so wraparound sorts correctly.
func (b *Buffer) sortedKeys() []uint32 {
	keys := make([]uint32, 0, len(b.packets))
	for k := range b.packets {
		keys = append(keys, k)
	}
	pivot := b.pushBaseSeq
	sort.Slice(keys, func(i, j int) bool {
		return wire.SeqDistance(pivot, keys[i]) < wire.SeqDistance(pivot, keys[j])
	})
	return keys
}

func (b *Buffer) recordLatency(sentMs int64) {
	nowMs := time.Now().UnixMilli()
	b.latencies = append(b.latencies, nowMs-sentMs)
	b.latencyCount++
	if b.latencyCount >= latencyLogBatch {
		var sum int64
		for _, v := range b.latencies {
			sum += v
		}
		mean := float64(sum) / float64(len(b.latencies))
		log.Printf("[playout] mean latency over %d packets: %.1fms", len(b.latencies), mean)
		b.latencies = b.latencies[:0]
		b.latencyCount = 0
	}
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// Len returns the number of packets currently buffered. Exposed for tests.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.packets)
}

// Initialized reports whether the buffer has accepted its first packet.
func (b *Buffer) Initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized
}

// PullExpectedSeq returns the current expected pull sequence. Exposed for
// tests.
func (b *Buffer) PullExpectedSeq() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pullExpectedSeq
}

// MutedCount returns the current silence-fill skip counter. Exposed for
// tests.
func (b *Buffer) MutedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mutedCount
}
