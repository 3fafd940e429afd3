// Package diagnostics implements a diagnostics endpoint: a
// loopback-bound, read-only HTTP surface reporting Install Tracker
// state for operator debugging. It is grounded on the
// teacher's web/instances package shape (an echo.Group of handlers
// over a model-layer capability, with jsonapi-style JSON responses
// collapsed here to plain structs since this endpoint has no external
// consumer to satisfy a JSON:API contract for), generalised from
// instance CRUD to a read-only status report, and exposes
// prometheus/client_golang's promhttp handler alongside it so
// pkg/metrics has somewhere to be scraped from.
package diagnostics

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dotnet-acquire/acquire-core/model/install"
)

// Tracker is the narrow Install Tracker capability this endpoint
// reports on; it never mutates the registry.
type Tracker interface {
	GetInstalled(ctx context.Context) ([]install.Record, error)
}

// Server is the diagnostics HTTP server.
type Server struct {
	echo *echo.Echo
}

// statusResponse is the JSON body of GET /status.
type statusResponse struct {
	Installed []install.Record `json:"installed"`
}

// New builds a Server reporting on tracker, with gatherer's metrics
// scraped at GET /metrics. Bind it to a loopback address only — this
// surface has no auth of its own.
func New(tracker Tracker, gatherer prometheus.Gatherer) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/status", func(c echo.Context) error {
		recs, err := tracker.GetInstalled(c.Request().Context())
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, statusResponse{Installed: recs})
	})

	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return &Server{echo: e}
}

// Start serves on addr (expected to be a loopback address, e.g.
// "127.0.0.1:0") until the process stops it or ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		_ = s.echo.Shutdown(context.Background())
	}()
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Addr returns the actual listener address once Start has bound it
// (useful when addr was ":0").
func (s *Server) Addr() string {
	if s.echo.Listener == nil {
		return ""
	}
	return s.echo.Listener.Addr().String()
}
