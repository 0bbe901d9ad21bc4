package pwaclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/heavystatus/newsroom-edge/internal/protocol"
)

// Transport carries protocol messages between a page and the edge.
type Transport interface {
	Send(ctx context.Context, msg protocol.Message) error
	// Messages is closed when the transport goes away.
	Messages() <-chan protocol.Message
	Close() error
}

const defaultWriteWait = 10 * time.Second

// WSTransport is a Transport over the edge's client websocket.
type WSTransport struct {
	ws   *websocket.Conn
	msgs chan protocol.Message

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	readDone  chan struct{}
}

// Dial connects to the client websocket at endpoint on behalf of the page
// at pageURL.
func Dial(ctx context.Context, endpoint, pageURL string, header http.Header) (*WSTransport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid edge endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("url", pageURL)
	u.RawQuery = q.Encode()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial edge %s: %w", u.Redacted(), err)
	}

	t := &WSTransport{
		ws:       ws,
		msgs:     make(chan protocol.Message, 16),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// Send writes msg. The write deadline follows ctx when it has one.
func (t *WSTransport) Send(ctx context.Context, msg protocol.Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteWait)
	}
	_ = t.ws.SetWriteDeadline(deadline)
	return t.ws.WriteJSON(msg)
}

func (t *WSTransport) Messages() <-chan protocol.Message { return t.msgs }

// Close shuts the socket and waits for the reader to exit.
func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.writeMu.Lock()
		_ = t.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = t.ws.Close()
	})
	<-t.readDone
	return err
}

func (t *WSTransport) readLoop() {
	defer close(t.readDone)
	defer close(t.msgs)
	for {
		_, data, err := t.ws.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		select {
		case t.msgs <- msg:
		case <-t.done:
			return
		}
	}
}
