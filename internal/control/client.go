package control

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/aquawius/aqua-sub000/internal/wire"
)

// KeepAliveInterval and FormatCheckInterval are the client-side control
// loop cadences.
const (
	KeepAliveInterval   = 1000 * time.Millisecond
	FormatCheckInterval = 1000 * time.Millisecond

	keepAliveRetries = 3
	keepAliveRetryGap = 50 * time.Millisecond
)

// FormatChangeHandler is invoked whenever GetAudioFormat reports a format
// that differs from the client's cached copy in encoding, channels, or
// sample rate — the trigger for the playback-stream reconfiguration in
// a format-change renegotiation.
type FormatChangeHandler func(wire.Format)

// ShutdownHandler is invoked once the keepalive loop gives up after
// exhausting its retries.
type ShutdownHandler func(reason error)

// Client is the control-plane client (C4's control half): it owns the QUIC
// connection to the server, runs the keepalive and format-check loops, and
// reports connection state to the caller via callbacks.
type Client struct {
	serverAddr string

	onFormatChange FormatChangeHandler
	onShutdown     ShutdownHandler

	mu     sync.Mutex
	conn   *quic.Conn
	fc     *frameConn
	uuid   string
	format wire.Format
	hasFmt bool

	clientAddress string
	clientPort    int

	connected atomic.Bool
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewClient creates a control-plane client. clientAddress/clientPort are
// the media-plane address the client advertises to the server in Connect —
// the address the server's packetizer will send UDP datagrams to.
func NewClient(serverAddr, clientAddress string, clientPort int, onFormatChange FormatChangeHandler, onShutdown ShutdownHandler) *Client {
	return &Client{
		serverAddr:     serverAddr,
		clientAddress:  clientAddress,
		clientPort:     clientPort,
		onFormatChange: onFormatChange,
		onShutdown:     onShutdown,
		stopCh:         make(chan struct{}),
	}
}

// Connect dials the server and performs the initial handshake, caching the
// assigned UUID and server-advertised format.
func (c *Client) Connect(ctx context.Context) (ServerHello, error) {
	tlsConf := insecureClientTLSConfig()
	conn, err := dialQUIC(ctx, c.serverAddr, tlsConf)
	if err != nil {
		return ServerHello{}, fmt.Errorf("control: dial %s: %w", c.serverAddr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(quic.ApplicationErrorCode(0), "stream open failed")
		return ServerHello{}, fmt.Errorf("control: open stream: %w", err)
	}
	fc := newFrameConn(stream)

	resp, err := fc.call(Envelope{
		Method:        MethodConnect,
		ClientAddress: c.clientAddress,
		ClientPort:    c.clientPort,
	})
	if err != nil {
		fc.Close()
		conn.CloseWithError(quic.ApplicationErrorCode(0), "connect failed")
		return ServerHello{}, err
	}
	if !resp.Success {
		fc.Close()
		conn.CloseWithError(quic.ApplicationErrorCode(0), "connect rejected")
		return ServerHello{}, fmt.Errorf("control: connect rejected: %s %s", resp.ErrorCode, resp.ErrorMessage)
	}

	c.mu.Lock()
	c.conn = conn
	c.fc = fc
	c.uuid = resp.ClientUUID
	c.format = resp.ServerFormat.toFormat()
	c.hasFmt = true
	c.mu.Unlock()
	c.connected.Store(true)

	return ServerHello{
		UUID:          resp.ClientUUID,
		ServerAddress: resp.ServerAddress,
		ServerUDPPort: resp.ServerUDPPort,
		Format:        resp.ServerFormat.toFormat(),
	}, nil
}

// ServerHello is the information learned from a successful Connect.
type ServerHello struct {
	UUID          string
	ServerAddress string
	ServerUDPPort int
	Format        wire.Format
}

// Disconnect notifies the server and tears down the connection. Safe to
// call even if Connect never succeeded.
func (c *Client) Disconnect(ctx context.Context) {
	c.mu.Lock()
	fc, uuid := c.fc, c.uuid
	c.mu.Unlock()

	if fc != nil && uuid != "" {
		fc.call(Envelope{Method: MethodDisconnect, UUID: uuid})
	}
	c.teardown()
}

// Run starts the keepalive and format-check loops and blocks until ctx is
// cancelled or the keepalive loop invokes the shutdown handler.
func (c *Client) Run(ctx context.Context) {
	c.wg.Add(2)
	go c.keepAliveLoop(ctx)
	go c.formatCheckLoop(ctx)
	c.wg.Wait()
}

// Stop ends both loops without invoking the shutdown handler.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Client) keepAliveLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
		}

		if !c.connected.Load() {
			if _, err := c.Connect(ctx); err != nil {
				log.Printf("[control] reconnect failed: %v", err)
				c.Stop()
				c.onShutdown(err)
				return
			}
			continue
		}

		if !c.keepAliveOnce() {
			var lastErr error
			ok := false
			for i := 0; i < keepAliveRetries; i++ {
				time.Sleep(keepAliveRetryGap)
				if c.keepAliveOnce() {
					ok = true
					break
				}
				lastErr = fmt.Errorf("keepalive attempt %d failed", i+1)
			}
			if !ok {
				c.teardown()
				c.Stop()
				if c.onShutdown != nil {
					c.onShutdown(lastErr)
				}
				return
			}
		}
	}
}

func (c *Client) keepAliveOnce() bool {
	c.mu.Lock()
	fc, uuid := c.fc, c.uuid
	c.mu.Unlock()
	if fc == nil {
		return false
	}
	resp, err := fc.call(Envelope{Method: MethodKeepAlive, UUID: uuid})
	if err != nil || !resp.Success {
		return false
	}
	return true
}

func (c *Client) formatCheckLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(FormatCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
		}

		if !c.connected.Load() {
			continue
		}

		c.mu.Lock()
		fc, uuid, cached := c.fc, c.uuid, c.format
		c.mu.Unlock()
		if fc == nil {
			continue
		}

		resp, err := fc.call(Envelope{Method: MethodGetAudioFormat, UUID: uuid})
		if err != nil || !resp.Success {
			continue
		}
		got := resp.ServerFormat.toFormat()
		if got.Encoding != cached.Encoding || got.Channels != cached.Channels || got.SampleRate != cached.SampleRate {
			c.mu.Lock()
			c.format = got
			c.mu.Unlock()
			if c.onFormatChange != nil {
				c.onFormatChange(got)
			}
		}
	}
}

func (c *Client) teardown() {
	c.connected.Store(false)
	c.mu.Lock()
	fc, conn := c.fc, c.conn
	c.fc, c.conn = nil, nil
	c.mu.Unlock()
	if fc != nil {
		fc.Close()
	}
	if conn != nil {
		conn.CloseWithError(quic.ApplicationErrorCode(0), "client shutdown")
	}
}
