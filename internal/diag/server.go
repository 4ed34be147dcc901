// Package diag implements a small HTTP diagnostics surface alongside the
// QUIC control plane and UDP media path: a health check, the Prometheus
// scrape endpoint, and a JSON session listing, following the usual
// APIServer (server/api.go): an *echo.Echo with a request logger, a
// recover middleware, and a JSON error handler, run on its own address
// until the caller's context is cancelled.
package diag

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aquawius/aqua-sub000/internal/session"
)

// Version is the build version reported by /api/version. Set at build
// time via -ldflags.
var Version = "0.1.0-dev"

// PeakSource reports the producer's most recent peak capture level, the
// peak-meter field, in the same spirit as an
// AudioPeakCallback.
type PeakSource interface {
	PeakLevel() float32
}

// Server exposes diagnostics endpoints for an aqua-sub000 server process.
type Server struct {
	registry *session.Registry
	peak     PeakSource
	echo     *echo.Echo
}

// NewServer constructs a diagnostics server bound to registry and
// registers all routes.
func NewServer(registry *session.Registry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[diag] %s %s %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = jsonErrorHandler

	s := &Server{registry: registry, echo: e}
	s.registerRoutes()
	return s
}

// SetPeakSource wires the producer's peak-meter reading into
// /api/sessions. Optional; the field reads 0 until set.
func (s *Server) SetPeakSource(peak PeakSource) {
	s.peak = peak
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/api/version", s.handleVersion)
	s.echo.GET("/api/sessions", s.handleSessions)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Run starts the Echo HTTP server on addr and blocks until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutCtx); err != nil {
			log.Printf("[diag] shutdown: %v", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// HealthResponse is the payload for GET /healthz.
type HealthResponse struct {
	Status       string `json:"status"`
	LiveSessions int    `json:"live_sessions"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:       "ok",
		LiveSessions: s.registry.Count(),
	})
}

// VersionResponse is the payload for GET /api/version.
type VersionResponse struct {
	Version string `json:"version"`
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, VersionResponse{Version: Version})
}

// SessionEntry is an element of SessionsResponse.Sessions.
type SessionEntry struct {
	UUID          string    `json:"uuid"`
	Endpoint      string    `json:"endpoint"`
	LastKeepalive time.Time `json:"last_keepalive"`
	Live          bool      `json:"live"`
}

// SessionsResponse is the payload for GET /api/sessions.
type SessionsResponse struct {
	Sessions  []SessionEntry `json:"sessions"`
	PeakLevel float32        `json:"peak_level"`
}

func (s *Server) handleSessions(c echo.Context) error {
	snap := s.registry.Snapshot()
	resp := SessionsResponse{Sessions: make([]SessionEntry, 0, len(snap))}
	for _, info := range snap {
		resp.Sessions = append(resp.Sessions, SessionEntry{
			UUID:          info.UUID,
			Endpoint:      info.Endpoint.String(),
			LastKeepalive: info.LastKeepalive,
			Live:          info.Live,
		})
	}
	if s.peak != nil {
		resp.PeakLevel = s.peak.PeakLevel()
	}
	return c.JSON(http.StatusOK, resp)
}

// jsonErrorHandler ensures all error responses have a consistent JSON
// body: {"error": "message"}.
func jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			c.NoContent(code) //nolint:errcheck
		} else {
			c.JSON(code, map[string]string{"error": msg}) //nolint:errcheck
		}
	}
}
