// Package api is the edge HTTP surface: the client websocket, push
// ingestion, worker control, health probes and the catch-all that turns
// every other request into a fetch event.
package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/heavystatus/newsroom-edge/internal/clients"
	"github.com/heavystatus/newsroom-edge/internal/conf"
	"github.com/heavystatus/newsroom-edge/internal/content"
	"github.com/heavystatus/newsroom-edge/internal/errors"
	"github.com/heavystatus/newsroom-edge/internal/logger"
	"github.com/heavystatus/newsroom-edge/internal/network"
	"github.com/heavystatus/newsroom-edge/internal/observability/metrics"
	"github.com/heavystatus/newsroom-edge/internal/push"
	"github.com/heavystatus/newsroom-edge/internal/telemetry"
	"github.com/heavystatus/newsroom-edge/internal/worker"
)

const (
	readHeaderTimeout = 10 * time.Second
	maxPushBodySize   = 64 * 1024
)

// Dependencies are the components the server routes to. Content, Bus and
// Bridge may be nil when the corresponding feature is off.
type Dependencies struct {
	Settings     *conf.Settings
	Registration *worker.Registration
	Clients      *clients.Registry
	Bridge       *push.Bridge
	Bus          *push.Bus
	Network      network.Network
	Content      *content.Client
	Metrics      *metrics.Metrics
	Reporter     *telemetry.Reporter
	Log          logger.Logger
}

// Server wraps the echo instance.
type Server struct {
	echo     *echo.Echo
	settings *conf.Settings
	origin   *url.URL
	// upstreams holds the origins passthrough fetches may reach.
	upstreams map[string]struct{}
	reg       *worker.Registration
	clients   *clients.Registry
	bridge    *push.Bridge
	bus       *push.Bus
	net       network.Network
	content   *content.Client
	metrics   *metrics.Metrics
	reporter  *telemetry.Reporter
	log       logger.Logger

	// ctx outlives individual requests; websocket sessions end with it.
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the server and registers every route.
func New(deps Dependencies) (*Server, error) {
	if deps.Settings == nil || deps.Registration == nil || deps.Network == nil {
		return nil, fmt.Errorf("api server requires settings, registration and network")
	}
	origin, err := url.Parse(deps.Settings.Site.Origin())
	if err != nil || !origin.IsAbs() {
		return nil, errors.Newf("invalid site url %q", deps.Settings.Site.URL).
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	log := deps.Log
	if log == nil {
		log = logger.NewNop()
	}
	reg := deps.Clients
	if reg == nil {
		reg = deps.Registration.Clients()
	}

	upstreams := map[string]struct{}{originOf(origin): {}}
	for _, o := range deps.Settings.Network.UpstreamOrigins {
		if u, err := url.Parse(o); err == nil && u.IsAbs() {
			upstreams[originOf(u)] = struct{}{}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		upstreams: upstreams,
		echo:      echo.New(),
		settings:  deps.Settings,
		origin:    origin,
		reg:       deps.Registration,
		clients:   reg,
		bridge:    deps.Bridge,
		bus:       deps.Bus,
		net:       deps.Network,
		content:   deps.Content,
		metrics:   deps.Metrics,
		reporter:  deps.Reporter,
		log:       log.Module("api"),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleError
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.registerPWARoutes()
	s.registerHealthRoutes()

	v1 := s.echo.Group("/api/v1")
	s.registerWorkerRoutes(v1)
	s.registerClientRoutes(v1)
	s.registerPushRoutes(v1)

	// Everything else is an intercepted fetch.
	s.echo.Any("/*", s.handleFetch)
}

// Echo exposes the router, mainly for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

// ServeHTTP lets the server be used as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.echo.Server.ReadHeaderTimeout = readHeaderTimeout
	s.log.Info("edge server listening", logger.String("addr", addr), logger.String("origin", s.origin.String()))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown ends websocket sessions and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.echo.Shutdown(ctx)
}

// handleError logs and reports unexpected failures before rendering them.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := "internal error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed",
			logger.String("method", c.Request().Method),
			logger.String("path", c.Request().URL.Path),
			logger.Error(err))
		s.reporter.Capture(err)
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]string{"error": msg})
}
