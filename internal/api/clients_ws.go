package api

import (
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/heavystatus/newsroom-edge/internal/clients"
	"github.com/heavystatus/newsroom-edge/internal/logger"
	"github.com/heavystatus/newsroom-edge/internal/protocol"
)

const defaultPongWait = 60 * time.Second

func (s *Server) registerClientRoutes(g *echo.Group) {
	g.GET("/clients/ws", s.handleClientSocket)
	g.GET("/clients", s.handleListClients)
}

// ClientInfo is the read-only view of a connected window.
type ClientInfo struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Focused    bool   `json:"focused"`
	Controller string `json:"controller,omitempty"`
}

func (s *Server) handleListClients(c echo.Context) error {
	list := s.clients.MatchAll(c.QueryParam("includeUncontrolled") == "true")
	out := make([]ClientInfo, 0, len(list))
	for _, cl := range list {
		out = append(out, ClientInfo{ID: cl.ID(), URL: cl.URL(), Focused: cl.Focused(), Controller: cl.Controller()})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin accepts non-browser peers (no Origin), the site origin, the
// configured extra origins and pages served by the edge itself.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if origin == s.origin.Scheme+"://"+s.origin.Host {
		return true
	}
	if slices.Contains(s.settings.WebServer.AllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// handleClientSocket connects a window. The page reports its URL in the
// url query parameter; the window is controlled by whatever release is
// active at connect time.
func (s *Server) handleClientSocket(c echo.Context) error {
	pageURL := c.QueryParam("url")
	if pageURL == "" {
		pageURL = s.origin.String() + "/"
	}

	ws, err := s.upgrader().Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		s.log.Debug("websocket upgrade failed", logger.Error(err))
		return nil
	}

	pongWait := s.settings.Clients.PongWait.Std()
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	conn := clients.NewWSConn(ws, pongWait, s.settings.Clients.PingInterval.Std())
	client := s.clients.Connect(conn, pageURL, s.reg.ActiveVersion())
	defer s.clients.Disconnect(client.ID())
	s.reg.ClientConnected(client)

	log := s.log.With(logger.String("client_id", client.ID()))
	err = conn.Run(s.ctx,
		func(msg protocol.Message) {
			if err := s.reg.HandleMessage(s.ctx, client.ID(), msg); err != nil {
				log.Warn("client message failed", logger.String("type", msg.Type), logger.Error(err))
			}
		},
		func(err error) {
			log.Debug("ignoring undecodable client frame", logger.Error(err))
		})
	if err != nil {
		log.Debug("client connection ended", logger.Error(err))
	}
	return nil
}
