package api

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/heavystatus/newsroom-edge/internal/logger"
	"github.com/heavystatus/newsroom-edge/internal/network"
)

// fetchRequest rewrites the incoming request into the fetch a page would
// make: relative targets resolve against the site origin, absolute ones
// (proxy form) are kept and may be cross-origin.
func (s *Server) fetchRequest(r *http.Request) *http.Request {
	target := r.URL
	if !target.IsAbs() {
		target = s.origin.ResolveReference(&url.URL{Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: r.URL.RawQuery})
	}
	out := r.Clone(r.Context())
	out.URL = target
	out.Host = target.Host
	out.RequestURI = ""
	return out
}

func originOf(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// upstreamAllowed reports whether the edge may fetch target for a page.
func (s *Server) upstreamAllowed(target *url.URL) bool {
	_, ok := s.upstreams[originOf(target)]
	return ok
}

// handleFetch turns a request into a fetch event. Requests the active
// worker does not handle go straight to the network. Proxy-form requests
// for origins outside the site and its upstreams are refused.
func (s *Server) handleFetch(c echo.Context) error {
	ctx := c.Request().Context()
	req := s.fetchRequest(c.Request())
	if !s.upstreamAllowed(req.URL) {
		s.log.Debug("refusing fetch for foreign origin", logger.String("url", req.URL.Redacted()))
		return echo.NewHTTPError(http.StatusForbidden, "origin not allowed")
	}

	fe := s.reg.NewFetchEvent(ctx, req)
	resp, handled, err := s.reg.HandleFetch(ctx, fe)
	if err != nil {
		return err
	}
	if !handled {
		resp, err = s.net.Fetch(ctx, req)
		if err != nil {
			s.log.Debug("passthrough fetch failed", logger.String("url", req.URL.Redacted()), logger.Error(err))
			return echo.NewHTTPError(http.StatusBadGateway, "upstream fetch failed")
		}
	}
	return writeResponse(c, resp)
}

func writeResponse(c echo.Context, resp *http.Response) error {
	defer resp.Body.Close()
	w := c.Response()
	network.CopyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if c.Request().Method == http.MethodHead {
		return nil
	}
	_, err := io.Copy(w, resp.Body)
	return err
}
