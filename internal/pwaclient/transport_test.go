package pwaclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heavystatus/newsroom-edge/internal/protocol"
)

func TestWSTransport_RoundTrip(t *testing.T) {
	t.Parallel()

	gotURL := make(chan string, 1)
	received := make(chan protocol.Message, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL <- r.URL.Query().Get("url")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_ = ws.WriteJSON(protocol.Registration(protocol.RegistrationState{Active: "v1"}))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = ws.WriteJSON(protocol.Activated("v1"))
		var msg protocol.Message
		if err := ws.ReadJSON(&msg); err == nil {
			received <- msg
		}
		_, _, _ = ws.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	tr, err := Dial(t.Context(), srv.URL+"/api/v1/clients/ws", "https://heavystatus.com/today", nil)
	require.NoError(t, err)

	assert.Equal(t, "https://heavystatus.com/today", <-gotURL)

	first := <-tr.Messages()
	assert.Equal(t, protocol.TypeRegistration, first.Type)
	second := <-tr.Messages()
	assert.Equal(t, protocol.TypeActivated, second.Type, "undecodable frames are skipped")

	require.NoError(t, tr.Send(t.Context(), protocol.SkipWaiting()))
	select {
	case msg := <-received:
		assert.Equal(t, protocol.TypeSkipWaiting, msg.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the message")
	}

	_ = tr.Close()
	_, open := <-tr.Messages()
	assert.False(t, open)
}

func TestDial_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := Dial(t.Context(), srv.URL, "https://heavystatus.com/", nil)
	require.Error(t, err)
}
