package clients

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/heavystatus/newsroom-edge/internal/protocol"
)

const (
	defaultPongWait = 60 * time.Second
	writeWait       = 10 * time.Second
	maxMessageSize  = 32 * 1024
)

// ErrConnClosed is returned when sending on a closed connection.
var ErrConnClosed = errors.New("client connection closed")

// WSConn adapts a gorilla websocket to Conn. gorilla/websocket allows a
// single concurrent writer, so every write goes through writeMu.
type WSConn struct {
	ws           *websocket.Conn
	pongWait     time.Duration
	pingInterval time.Duration

	writeMu sync.Mutex
	closed  bool
}

// NewWSConn wraps ws. pongWait bounds how long the peer may stay silent
// before the read loop gives up. Pings go out every pingInterval, which
// must be shorter than pongWait; otherwise at nine tenths of pongWait.
func NewWSConn(ws *websocket.Conn, pongWait, pingInterval time.Duration) *WSConn {
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	if pingInterval <= 0 || pingInterval >= pongWait {
		pingInterval = pongWait * 9 / 10
	}
	ws.SetReadLimit(maxMessageSize)
	return &WSConn{ws: ws, pongWait: pongWait, pingInterval: pingInterval}
}

// Send writes msg as a JSON text frame.
func (c *WSConn) Send(msg protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

// Close sends a close frame and tears down the socket. Safe to call twice.
func (c *WSConn) Close() error {
	c.writeMu.Lock()
	if c.closed {
		c.writeMu.Unlock()
		return nil
	}
	c.closed = true
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *WSConn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

// Run reads messages until the peer goes away or ctx is cancelled, handing
// each decoded message to onMessage. Frames that fail to decode are passed
// to onInvalid when it is set. Run keeps the connection alive with pings.
func (c *WSConn) Run(ctx context.Context, onMessage func(protocol.Message), onInvalid func(error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.ping(); err != nil {
					return
				}
			}
		}
	}()

	// Unblock ReadMessage when ctx ends first.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	var runErr error
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				runErr = err
			}
			break
		}
		if kind != websocket.TextMessage {
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			if onInvalid != nil {
				onInvalid(err)
			}
			continue
		}
		onMessage(msg)
	}

	_ = c.Close()
	cancel()
	wg.Wait()
	return runErr
}
