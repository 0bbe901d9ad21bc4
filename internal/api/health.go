package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/heavystatus/newsroom-edge/internal/logger"
)

const readyTimeout = 3 * time.Second

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/readyz", s.handleReady)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports ready once a release is active and, when configured,
// the content API answers.
func (s *Server) handleReady(c echo.Context) error {
	status := map[string]any{"active": s.reg.ActiveVersion()}
	if s.reg.Active() == nil {
		status["status"] = "no active release"
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	if s.content != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), readyTimeout)
		defer cancel()
		if err := s.content.Ping(ctx); err != nil {
			s.log.Warn("content api not ready", logger.String("endpoint", s.content.Endpoint()), logger.Error(err))
			status["status"] = "content api unavailable"
			return c.JSON(http.StatusServiceUnavailable, status)
		}
	}
	status["status"] = "ready"
	return c.JSON(http.StatusOK, status)
}
