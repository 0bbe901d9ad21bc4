package worker

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/heavystatus/newsroom-edge/internal/cachestore"
	"github.com/heavystatus/newsroom-edge/internal/clients"
	"github.com/heavystatus/newsroom-edge/internal/conf"
	"github.com/heavystatus/newsroom-edge/internal/protocol"
	"github.com/heavystatus/newsroom-edge/internal/testutil/netfake"
)

const testOrigin = "https://heavystatus.com"

const offlineHTML = "<h1>You are offline</h1>"

func testRelease(version string) conf.Release {
	return conf.Release{
		Prefix:         "newsroom",
		Version:        version,
		LegacyPrefixes: []string{"heavy-status-", "workbox-"},
	}
}

func mustOrigin(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse(testOrigin)
	require.NoError(t, err)
	return u
}

// shellNet serves the precache manifest.
func shellNet() *netfake.Network {
	return netfake.New().
		Handle(testOrigin+"/offline.html", netfake.Route{Body: offlineHTML, Header: http.Header{"Content-Type": {"text/html; charset=utf-8"}}}).
		Handle(testOrigin+"/icons/icon-192.png", netfake.Route{Body: "icon-192"})
}

func newFactory(t *testing.T, storage cachestore.Storage, net *netfake.Network) Factory {
	t.Helper()
	origin := mustOrigin(t)
	return func(release conf.Release) (*Worker, error) {
		m, err := cachestore.NewManager(release, storage, cachestore.Options{
			Origin:          origin,
			Precache:        []string{"/offline.html", "/icons/icon-192.png"},
			OfflineDocument: "/offline.html",
			Network:         net,
		})
		if err != nil {
			return nil, err
		}
		return New(m, Config{Origin: origin, Rules: DefaultRules(), Network: net}), nil
	}
}

// newPrecachedWorker returns a worker for v1 whose shell is populated.
func newPrecachedWorker(t *testing.T, storage cachestore.Storage, net *netfake.Network) *Worker {
	t.Helper()
	w, err := newFactory(t, storage, net)(testRelease("v1"))
	require.NoError(t, err)
	require.NoError(t, w.Cache().EnsurePrecached(t.Context()))
	return w
}

func navRequest(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Dest", "document")
	return req
}

func getRequest(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, http.NoBody)
	require.NoError(t, err)
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return string(b)
}

func partitionKeys(t *testing.T, s cachestore.Storage, name string) []string {
	t.Helper()
	p, err := s.Open(t.Context(), name)
	require.NoError(t, err)
	keys, err := p.Keys(t.Context())
	require.NoError(t, err)
	return keys
}

// recordingConn is a client window that keeps every message it receives.
type recordingConn struct {
	mu     sync.Mutex
	sent   []protocol.Message
	onSend func(protocol.Message)
}

func (c *recordingConn) Send(msg protocol.Message) error {
	if c.onSend != nil {
		c.onSend(msg)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) ofType(typ string) []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Message
	for _, m := range c.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// recordingStorage logs deletions through onDelete before performing them.
type recordingStorage struct {
	cachestore.Storage
	onDelete func(name string)
}

func (s *recordingStorage) Delete(ctx context.Context, name string) (bool, error) {
	if s.onDelete != nil {
		s.onDelete(name)
	}
	return s.Storage.Delete(ctx, name)
}

var _ clients.Conn = (*recordingConn)(nil)
