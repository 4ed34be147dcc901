package transport

import (
	"context"
	"errors"
	"log"
	"net"
	"sync/atomic"

	"github.com/aquawius/aqua-sub000/internal/playout"
	"github.com/aquawius/aqua-sub000/internal/wire"
)

// Receiver is the data-plane receive half of C4: one task bound to a UDP
// socket, handing each datagram straight to the adaptive playout buffer.
// No reassembly happens at this layer — one datagram equals one audio
// packet.
type Receiver struct {
	conn   *net.UDPConn
	buffer *playout.Buffer

	bytesReceived atomic.Uint64
}

// NewReceiver creates a receiver reading datagrams off conn into buffer.
func NewReceiver(conn *net.UDPConn, buffer *playout.Buffer) *Receiver {
	return &Receiver{conn: conn, buffer: buffer}
}

// Run reads datagrams until ctx is cancelled or the socket is closed.
// Receive errors other than cancellation are logged and the loop continues
//
func (r *Receiver) Run(ctx context.Context) error {
	scratch := make([]byte, wire.RecvBufferSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, _, err := r.conn.ReadFromUDP(scratch)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			log.Printf("[receiver] read: %v", err)
			continue
		}

		r.bytesReceived.Add(uint64(n))

		pkt := make([]byte, n)
		copy(pkt, scratch[:n])
		r.buffer.Push(pkt)
	}
}

// BytesReceived returns the cumulative number of bytes read from the
// socket.
func (r *Receiver) BytesReceived() uint64 {
	return r.bytesReceived.Load()
}
