package metrics

import (
	"context"
	"time"

	"github.com/aquawius/aqua-sub000/internal/session"
)

// PollInterval is how often Run samples gauge-style metrics from the
// registry and sender, following the usual periodic
// UpdateSessionMetrics/resource-metrics refresh cadence.
const PollInterval = 2 * time.Second

// SenderStats is the subset of *transport.Sender's surface the poller reads.
// All of the Total-suffixed methods are cumulative counters; Run tracks its
// own last-seen snapshot and feeds the delta to the corresponding
// Prometheus counter each tick.
type SenderStats interface {
	QueueLen() int
	BytesSent() uint64
	PacketsSentTotal() uint64
	DroppedTotal() uint64
}

// registrySnapshot is the portion of Run's poll-loop state derived from
// cumulative counters, carried across ticks to compute deltas.
type registrySnapshot struct {
	added, replaced, rejected, expired uint64
}

type senderSnapshot struct {
	bytesSent, packetsSent, dropped uint64
}

// Run periodically refreshes every collector this process can observe:
// live session count and event counters from the registry, send-queue
// depth and throughput from the sender, and process resource usage. It
// blocks until ctx is cancelled.
func (m *Metrics) Run(ctx context.Context, registry *session.Registry, sender SenderStats) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	var reg registrySnapshot
	var snd senderSnapshot

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetLiveSessions(registry.Count())
			reg = m.pollRegistry(registry, reg)

			if sender != nil {
				m.SetSendQueueLength(sender.QueueLen())
				snd = m.pollSender(sender, snd)
			}

			m.UpdateResourceMetrics()
		}
	}
}

func (m *Metrics) pollRegistry(registry *session.Registry, last registrySnapshot) registrySnapshot {
	if added := registry.AddedTotal(); added > last.added {
		m.sessionsAdded.Add(float64(added - last.added))
		last.added = added
	}
	if replaced := registry.ReplacedTotal(); replaced > last.replaced {
		m.sessionsReplaced.Add(float64(replaced - last.replaced))
		last.replaced = replaced
	}
	if rejected := registry.RejectedTotal(); rejected > last.rejected {
		m.sessionsRejected.Add(float64(rejected - last.rejected))
		last.rejected = rejected
	}
	if expired := registry.ExpiredTotal(); expired > last.expired {
		m.sessionsExpired.Add(float64(expired - last.expired))
		last.expired = expired
	}
	return last
}

func (m *Metrics) pollSender(sender SenderStats, last senderSnapshot) senderSnapshot {
	if sent := sender.BytesSent(); sent > last.bytesSent {
		m.RecordAudioBytesSent(int(sent - last.bytesSent))
		last.bytesSent = sent
	}
	if pkts := sender.PacketsSentTotal(); pkts > last.packetsSent {
		m.RecordPacketsSent(int(pkts - last.packetsSent))
		last.packetsSent = pkts
	}
	if dropped := sender.DroppedTotal(); dropped > last.dropped {
		m.RecordSendQueueDropped(int(dropped - last.dropped))
		last.dropped = dropped
	}
	return last
}
