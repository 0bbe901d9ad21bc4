// Package network is the edge's view of "the network": the origin site and
// any cross-origin host a page fetches from.
package network

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Network performs a real fetch. An error means the fetch itself failed
// (connection refused, DNS, abort); any HTTP status is a successful fetch.
type Network interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Func adapts a function to Network.
type Func func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f Func) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// HTTPNetwork fetches over an http.Client. Redirects are returned to the
// caller rather than followed so the page sees them.
type HTTPNetwork struct {
	client    *http.Client
	userAgent string
}

// NewHTTPNetwork creates a network client. A zero timeout leaves fetches
// unbounded.
func NewHTTPNetwork(userAgent string, timeout time.Duration) *HTTPNetwork {
	return &HTTPNetwork{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: userAgent,
	}
}

// NewHTTPNetworkWithClient wraps an existing client, e.g. one with a custom
// transport.
func NewHTTPNetworkWithClient(client *http.Client, userAgent string) *HTTPNetwork {
	return &HTTPNetwork{client: client, userAgent: userAgent}
}

// Fetch sends an outbound copy of req.
func (n *HTTPNetwork) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	out, err := OutboundRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if out.Header.Get("User-Agent") == "" && n.userAgent != "" {
		out.Header.Set("User-Agent", n.userAgent)
	}
	resp, err := n.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", out.URL.Redacted(), err)
	}
	return resp, nil
}

// OutboundRequest clones an intercepted request into one suitable for a
// client round trip: absolute URL, no RequestURI, no hop-by-hop headers.
func OutboundRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	if req.URL == nil || !req.URL.IsAbs() {
		return nil, fmt.Errorf("outbound request needs an absolute URL")
	}
	out := req.Clone(ctx)
	out.RequestURI = ""
	out.Host = ""
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	return out, nil
}

// CopyHeader copies src into dst, leaving out hop-by-hop headers.
func CopyHeader(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append(dst[k][:0:0], vv...)
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}
