package control

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// quicMaxIdleTimeout bounds how long a control-plane QUIC connection may sit
// idle before the transport tears it down. The session registry's own
// SESSION_TIMEOUT (3s) is the authority on session liveness;
// this is just generous enough to never fire first.
const quicMaxIdleTimeout = 30 * time.Second

// frameConn wraps a single QUIC stream with a mutex-serialised,
// newline-delimited JSON read/write pair, following the usual
// bufio.Reader-over-stream control protocol framing.
type frameConn struct {
	stream *quic.Stream

	// callMu serializes whole request/response round trips so two
	// concurrent callers can never have their writes and reads
	// interleaved (each would otherwise read the other's reply).
	callMu sync.Mutex

	writeMu sync.Mutex

	readMu sync.Mutex
	reader *bufio.Reader
}

func newFrameConn(stream *quic.Stream) *frameConn {
	return &frameConn{
		stream: stream,
		reader: bufio.NewReader(stream),
	}
}

func (c *frameConn) writeEnvelope(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("control: marshal envelope: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.stream.Write(data)
	return err
}

func (c *frameConn) readEnvelope() (Envelope, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if jsonErr := json.Unmarshal(line, &env); jsonErr != nil {
		return Envelope{}, fmt.Errorf("control: decode envelope: %w", jsonErr)
	}
	return env, nil
}

// call performs one request/response round trip, holding callMu across
// both the write and the read so a second, concurrently-issued call
// cannot read back this call's reply.
func (c *frameConn) call(req Envelope) (Envelope, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if err := c.writeEnvelope(req); err != nil {
		return Envelope{}, err
	}
	return c.readEnvelope()
}

// Close closes the underlying stream.
func (c *frameConn) Close() error {
	return c.stream.Close()
}

// quicConfig returns the shared QUIC transport configuration used by both
// the listener and the dialer.
func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  quicMaxIdleTimeout,
		EnableDatagrams: false,
	}
}

// listenQUIC opens a QUIC listener bound to addr with the given TLS config.
func listenQUIC(addr string, tlsConf *tls.Config) (*quic.Listener, error) {
	return quic.ListenAddr(addr, tlsConf, quicConfig())
}

// dialQUIC dials a QUIC connection to addr.
func dialQUIC(ctx context.Context, addr string, tlsConf *tls.Config) (*quic.Conn, error) {
	return quic.DialAddr(ctx, addr, tlsConf, quicConfig())
}
