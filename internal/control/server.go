package control

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/aquawius/aqua-sub000/internal/session"
	"github.com/aquawius/aqua-sub000/internal/wire"
)

// FormatSource is the server's own view of the format it is currently
// capturing and sending, consulted by Connect and GetAudioFormat. It is
// satisfied by the audio package's producer and by test fakes alike.
type FormatSource interface {
	CurrentFormat() wire.Format
}

// Server is the control-plane listener (C2): one QUIC endpoint accepting a
// long-lived bidirectional stream per client, dispatching
// Connect/Disconnect/KeepAlive/GetAudioFormat against the shared session
// registry.
type Server struct {
	registry   *session.Registry
	format     FormatSource
	udpPort    int
	serverHost string

	listener *quic.Listener

	wg       sync.WaitGroup
	closing  atomic.Bool
}

// NewServer creates a control-plane server. udpPort is the media-plane UDP
// port advertised to clients in Connect responses; serverHost is the
// address advertised back to the client (the Connect response
// `server_address`).
func NewServer(registry *session.Registry, format FormatSource, serverHost string, udpPort int) *Server {
	return &Server{
		registry:   registry,
		format:     format,
		udpPort:    udpPort,
		serverHost: serverHost,
	}
}

// ListenAndServe binds the QUIC listener on the server's configured host
// and port and accepts connections until ctx is cancelled or Close is
// called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	tlsConf, err := generateTLSConfig(s.serverHost, quicCertValidity)
	if err != nil {
		return err
	}
	addr := joinHostPort(s.serverHost, s.udpPort)
	ln, err := listenQUIC(addr, tlsConf)
	if err != nil {
		return err
	}
	s.listener = ln
	log.Printf("[control] listening on %s", addr)

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if s.closing.Load() || errors.Is(err, context.Canceled) {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.closing.Store(true)
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) serveConn(ctx context.Context, conn *quic.Conn) {
	defer s.wg.Done()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return
	}
	fc := newFrameConn(stream)
	defer fc.Close()

	for {
		req, err := fc.readEnvelope()
		if err != nil {
			return
		}
		resp := s.dispatch(conn.RemoteAddr(), req)
		if err := fc.writeEnvelope(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(remote net.Addr, req Envelope) Envelope {
	switch req.Method {
	case MethodConnect:
		return s.handleConnect(req)
	case MethodDisconnect:
		return s.handleDisconnect(req)
	case MethodKeepAlive:
		return s.handleKeepAlive(req)
	case MethodGetAudioFormat:
		return s.handleGetAudioFormat(req)
	default:
		return Envelope{Success: false, ErrorCode: CodeInvalidArgument, ErrorMessage: "unknown method"}
	}
}

// handleConnect validates the claimed
// client address, mint a UUID, register it, and hand back the server's
// currently negotiated format. Registration and response are atomic — a
// rejected Add produces no side effect and no success response.
func (s *Server) handleConnect(req Envelope) Envelope {
	ip := net.ParseIP(req.ClientAddress)
	if ip == nil || req.ClientPort <= 0 || req.ClientPort > 65535 {
		return Envelope{Success: false, ErrorCode: CodeInvalidArgument, ErrorMessage: "bad client address"}
	}

	clientUUID := uuid.NewString()
	endpoint := net.UDPAddr{IP: ip, Port: req.ClientPort}

	switch s.registry.Add(clientUUID, endpoint) {
	case session.RejectedDuplicateEndpoint:
		return Envelope{Success: false, ErrorCode: CodeAlreadyExists, ErrorMessage: "endpoint already connected"}
	}

	return Envelope{
		Success:       true,
		ClientUUID:    clientUUID,
		ServerAddress: s.serverHost,
		ServerUDPPort: s.udpPort,
		ServerFormat:  toFormatWire(s.format.CurrentFormat()),
	}
}

func (s *Server) handleDisconnect(req Envelope) Envelope {
	s.registry.Remove(req.UUID)
	return Envelope{Success: true}
}

func (s *Server) handleKeepAlive(req Envelope) Envelope {
	switch s.registry.Touch(req.UUID) {
	case session.TouchOK:
		return Envelope{Success: true}
	default:
		return Envelope{Success: false, ErrorCode: CodeNotFound, ErrorMessage: "unknown or expired session"}
	}
}

func (s *Server) handleGetAudioFormat(req Envelope) Envelope {
	switch s.registry.Validate(req.UUID) {
	case session.TouchOK:
		return Envelope{Success: true, ServerFormat: toFormatWire(s.format.CurrentFormat())}
	default:
		return Envelope{Success: false, ErrorCode: CodeNotFound, ErrorMessage: "unknown or expired session"}
	}
}

// LocalAddr reports the listener's bound address, for callers that bound to
// port 0.
func (s *Server) LocalAddr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
