package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/heavystatus/newsroom-edge/internal/protocol"
)

// WorkerStatus describes the registration for operators and pages.
type WorkerStatus struct {
	Scope          string                     `json:"scope"`
	Registration   protocol.RegistrationState `json:"registration"`
	PreloadEnabled bool                       `json:"preloadEnabled"`
	Clients        int                        `json:"clients"`
	// PendingLaunches counts notification clicks waiting for a window.
	PendingLaunches int `json:"pendingLaunches"`
}

func (s *Server) registerWorkerRoutes(g *echo.Group) {
	g.GET("/worker", s.handleWorkerStatus)
	g.POST("/worker/skip-waiting", s.handleSkipWaiting)
}

func (s *Server) workerStatus() WorkerStatus {
	status := WorkerStatus{
		Scope:           s.settings.PWA.Scope,
		Registration:    s.reg.State(),
		Clients:         s.clients.Count(),
		PendingLaunches: s.clients.PendingLaunches(),
	}
	if w := s.reg.Active(); w != nil {
		status.PreloadEnabled = w.PreloadEnabled()
	}
	return status
}

func (s *Server) handleWorkerStatus(c echo.Context) error {
	c.Response().Header().Set("Service-Worker-Allowed", "/")
	return c.JSON(http.StatusOK, s.workerStatus())
}

// handleSkipWaiting does what a SKIP_WAITING message does.
func (s *Server) handleSkipWaiting(c echo.Context) error {
	promoted, err := s.reg.SkipWaiting(c.Request().Context())
	if err != nil {
		return err
	}
	if !promoted {
		return c.JSON(http.StatusConflict, map[string]string{"error": "no waiting version"})
	}
	return c.JSON(http.StatusOK, s.workerStatus())
}
