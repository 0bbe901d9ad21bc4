package api

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/heavystatus/newsroom-edge/internal/errors"
	"github.com/heavystatus/newsroom-edge/internal/logger"
	"github.com/heavystatus/newsroom-edge/internal/push"
)

func (s *Server) registerPushRoutes(g *echo.Group) {
	limit := s.settings.Push.RateLimit
	burst := s.settings.Push.RateBurst
	var mw []echo.MiddlewareFunc
	if limit > 0 {
		mw = append(mw, middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(limit),
				Burst:     burst,
				ExpiresIn: 3 * time.Minute,
			}),
			IdentifierExtractor: func(c echo.Context) (string, error) {
				return c.RealIP(), nil
			},
			DenyHandler: func(c echo.Context, _ string, _ error) error {
				return echo.NewHTTPError(http.StatusTooManyRequests, "push rate limit exceeded")
			},
		}))
	}
	g.POST("/push", s.handlePush, mw...)
	g.GET("/notifications", s.handleListNotifications)
	g.POST("/notifications/:tag/click", s.handleNotificationClick)
	g.DELETE("/notifications/:tag", s.handleNotificationClose)
}

// handlePush accepts a raw push payload and queues it. Delivery is
// asynchronous, so success means accepted, not displayed.
func (s *Server) handlePush(c echo.Context) error {
	if s.bus == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "push delivery is disabled")
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, maxPushBodySize))
	if err != nil {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "push payload too large")
	}
	if !s.bus.Publish(&push.Event{Source: push.SourceHTTP, Payload: body, ReceivedAt: time.Now()}) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "push queue full")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleListNotifications(c echo.Context) error {
	if s.bridge == nil {
		return c.JSON(http.StatusOK, []push.Descriptor{})
	}
	return c.JSON(http.StatusOK, s.bridge.Active())
}

func (s *Server) handleNotificationClick(c echo.Context) error {
	tag := c.Param("tag")
	if err := s.reg.NotificationClick(c.Request().Context(), tag); err != nil {
		if errors.Is(err, push.ErrUnknownNotification) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown notification")
		}
		return err
	}
	s.log.Debug("notification click handled", logger.String("tag", tag))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleNotificationClose(c echo.Context) error {
	if s.bridge == nil || !s.bridge.Close(c.Param("tag")) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown notification")
	}
	return c.NoContent(http.StatusNoContent)
}
