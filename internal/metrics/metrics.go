// Package metrics exposes the server's runtime counters as Prometheus
// collectors, following a PrometheusMetrics-style
// (prometheus.go) but scoped to this system's own surface: live
// sessions, packet throughput, and send-queue drops. Collectors are
// limited to what the server process can actually observe — the
// playout buffer and receive path live only in the client, which has
// no metrics surface of its own.
package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the server process.
type Metrics struct {
	liveSessions     prometheus.Gauge
	sessionsAdded    prometheus.Counter
	sessionsReplaced prometheus.Counter
	sessionsRejected prometheus.Counter
	sessionsExpired  prometheus.Counter

	audioBytesSent   prometheus.Counter
	packetsSent      prometheus.Counter
	sendQueueLength  prometheus.Gauge
	sendQueueDropped prometheus.Counter

	goroutines       prometheus.Gauge
	memoryAllocBytes prometheus.Gauge
}

// New creates and registers the server's metrics against the default
// registry.
func New() *Metrics {
	return &Metrics{
		liveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aquasub_live_sessions",
			Help: "Number of sessions currently registered in the session registry.",
		}),
		sessionsAdded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aquasub_sessions_added_total",
			Help: "Total number of sessions newly registered.",
		}),
		sessionsReplaced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aquasub_sessions_replaced_total",
			Help: "Total number of sessions replaced by a reconnecting uuid.",
		}),
		sessionsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aquasub_sessions_rejected_total",
			Help: "Total number of Connect attempts rejected for reusing a live endpoint.",
		}),
		sessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aquasub_sessions_expired_total",
			Help: "Total number of sessions removed by the keepalive sweeper.",
		}),
		audioBytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aquasub_audio_bytes_sent_total",
			Help: "Total audio datagram bytes (header plus payload) fanned out to clients.",
		}),
		packetsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aquasub_packets_sent_total",
			Help: "Total audio packets fanned out across all live endpoints.",
		}),
		sendQueueLength: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aquasub_send_queue_length",
			Help: "Current length of the fan-out sender's packet queue.",
		}),
		sendQueueDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aquasub_send_queue_dropped_total",
			Help: "Total packets dropped from the head of the send queue on overflow.",
		}),
		goroutines: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aquasub_goroutines",
			Help: "Current number of goroutines.",
		}),
		memoryAllocBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aquasub_memory_alloc_bytes",
			Help: "Current memory allocated in bytes.",
		}),
	}
}

func (m *Metrics) SetLiveSessions(n int) { m.liveSessions.Set(float64(n)) }

func (m *Metrics) RecordAudioBytesSent(n int)   { m.audioBytesSent.Add(float64(n)) }
func (m *Metrics) RecordPacketsSent(n int)      { m.packetsSent.Add(float64(n)) }
func (m *Metrics) SetSendQueueLength(n int)     { m.sendQueueLength.Set(float64(n)) }
func (m *Metrics) RecordSendQueueDropped(n int) { m.sendQueueDropped.Add(float64(n)) }

// UpdateResourceMetrics samples runtime stats, following the usual
// updateResourceMetrics.
func (m *Metrics) UpdateResourceMetrics() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(ms.Alloc))
}
