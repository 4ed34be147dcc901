package metrics

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/aquawius/aqua-sub000/internal/session"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

// newTestMetrics calls New against a fresh default registerer, so each test
// can register the fixed-name collectors without colliding with another's.
func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	orig := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	t.Cleanup(func() { prometheus.DefaultRegisterer = orig })
	return New()
}

func TestSetLiveSessionsUpdatesGauge(t *testing.T) {
	m := newTestMetrics(t)
	m.SetLiveSessions(3)
	if got := gaugeValue(t, m.liveSessions); got != 3 {
		t.Fatalf("liveSessions = %v, want 3", got)
	}
}

func TestRecordAudioBytesAccumulates(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordAudioBytesSent(10)
	m.RecordAudioBytesSent(5)

	var out dto.Metric
	if err := m.audioBytesSent.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if got := out.GetCounter().GetValue(); got != 15 {
		t.Fatalf("audioBytesSent = %v, want 15", got)
	}
}

type fakeSenderStats struct {
	n           int
	bytesSent   uint64
	packetsSent uint64
	dropped     uint64
}

func (f fakeSenderStats) QueueLen() int            { return f.n }
func (f fakeSenderStats) BytesSent() uint64        { return f.bytesSent }
func (f fakeSenderStats) PacketsSentTotal() uint64 { return f.packetsSent }
func (f fakeSenderStats) DroppedTotal() uint64     { return f.dropped }

func TestRunPollsLiveSessionsAndQueueLength(t *testing.T) {
	reg := session.NewRegistry()
	defer reg.Close()
	reg.Add("a", net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1})

	m := newTestMetrics(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go m.Run(ctx, reg, fakeSenderStats{n: 7})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if gaugeValue(t, m.liveSessions) == 1 && gaugeValue(t, m.sendQueueLength) == 7 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("poller did not update gauges within deadline: sessions=%v queue=%v",
		gaugeValue(t, m.liveSessions), gaugeValue(t, m.sendQueueLength))
}

func TestRunPollsSenderAndRegistryCounterDeltas(t *testing.T) {
	reg := session.NewRegistry()
	defer reg.Close()
	reg.Add("a", net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1})
	reg.Add("a", net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}) // replaces
	reg.Add("b", net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}) // rejected: endpoint in use by "a"

	m := newTestMetrics(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := fakeSenderStats{n: 1, bytesSent: 1000, packetsSent: 10, dropped: 2}
	go m.Run(ctx, reg, sender)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if counterValue(t, m.sessionsReplaced) == 1 &&
			counterValue(t, m.sessionsRejected) == 1 &&
			counterValue(t, m.audioBytesSent) == 1000 &&
			counterValue(t, m.packetsSent) == 10 &&
			counterValue(t, m.sendQueueDropped) == 2 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("poller did not feed counters within deadline: replaced=%v rejected=%v bytes=%v packets=%v dropped=%v",
		counterValue(t, m.sessionsReplaced), counterValue(t, m.sessionsRejected),
		counterValue(t, m.audioBytesSent), counterValue(t, m.packetsSent), counterValue(t, m.sendQueueDropped))
}
