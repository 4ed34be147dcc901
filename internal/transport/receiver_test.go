package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/aquawius/aqua-sub000/internal/playout"
	"github.com/aquawius/aqua-sub000/internal/wire"
)

func TestReceiverPushesDatagramsIntoBuffer(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer serverConn.Close()

	clientConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen client udp: %v", err)
	}
	defer clientConn.Close()

	format := wire.NewFormat(wire.EncodingF32LE, 1, 48000)
	buf := playout.New(format)
	recv := NewReceiver(serverConn, buf)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		recv.Run(ctx)
		close(done)
	}()

	pkt := make([]byte, wire.HeaderSize+16)
	wire.EncodeHeader(pkt, wire.PacketHeader{Sequence: 1000, TimestampMs: time.Now().UnixMilli()})
	for i := wire.HeaderSize; i < len(pkt); i++ {
		pkt[i] = 0x42
	}

	if _, err := clientConn.WriteToUDP(pkt, serverConn.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("send datagram: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for buf.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if buf.Len() != 1 {
		t.Fatalf("buffer len = %d, want 1", buf.Len())
	}
	if recv.BytesReceived() != uint64(len(pkt)) {
		t.Fatalf("bytes received = %d, want %d", recv.BytesReceived(), len(pkt))
	}

	cancel()
	serverConn.Close()
	<-done
}
