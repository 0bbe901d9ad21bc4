package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPNetwork_FetchSetsUserAgentAndStripsHopHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "newsroom-edge/test", r.Header.Get("User-Agent"))
		assert.Empty(t, r.Header.Get("Proxy-Authorization"))
		w.WriteHeader(http.StatusTeapot)
	}))
	t.Cleanup(srv.Close)

	n := NewHTTPNetwork("newsroom-edge/test", 0)
	req := httptest.NewRequest(http.MethodGet, srv.URL+"/today", http.NoBody)
	req.Header.Set("Proxy-Authorization", "secret")

	resp, err := n.Fetch(t.Context(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode, "any status is a successful fetch")
}

func TestHTTPNetwork_DoesNotFollowRedirects(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.RedirectHandler("/elsewhere", http.StatusFound))
	t.Cleanup(srv.Close)

	resp, err := NewHTTPNetwork("", time.Second).Fetch(t.Context(), httptest.NewRequest(http.MethodGet, srv.URL, http.NoBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestHTTPNetwork_ConnectionFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPNetwork("", time.Second).Fetch(context.Background(), httptest.NewRequest(http.MethodGet, url, http.NoBody))
	assert.Error(t, err)
}

func TestOutboundRequest_RequiresAbsoluteURL(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/relative", http.NoBody)
	req.URL.Scheme = ""
	req.URL.Host = ""
	_, err := OutboundRequest(t.Context(), req)
	assert.Error(t, err)
}
