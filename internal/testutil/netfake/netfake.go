// Package netfake provides a scriptable network.Network for tests.
package netfake

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
)

// ErrOffline is returned for every fetch while the network is offline.
var ErrOffline = errors.New("netfake: network unreachable")

// Route is a canned response for one URL.
type Route struct {
	Status int
	Body   string
	Header http.Header
	Err    error
	// Hold, when set, delays the response until it is closed.
	Hold <-chan struct{}
}

// Network serves canned routes and counts calls per URL. Unknown URLs get
// a 404.
type Network struct {
	mu      sync.Mutex
	routes  map[string]Route
	calls   map[string]int
	offline bool
}

// New creates an empty fake network.
func New() *Network {
	return &Network{routes: map[string]Route{}, calls: map[string]int{}}
}

// Handle registers a route for an absolute URL.
func (n *Network) Handle(url string, r Route) *Network {
	n.mu.Lock()
	defer n.mu.Unlock()
	if r.Status == 0 && r.Err == nil {
		r.Status = http.StatusOK
	}
	n.routes[url] = r
	return n
}

// SetOffline makes every fetch fail with ErrOffline.
func (n *Network) SetOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}

// Calls returns how many fetches were made for url, offline ones included.
func (n *Network) Calls(url string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[url]
}

// TotalCalls returns the number of fetches made.
func (n *Network) TotalCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.calls {
		total += c
	}
	return total
}

// Fetch implements network.Network.
func (n *Network) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u := req.URL.String()

	n.mu.Lock()
	n.calls[u]++
	offline := n.offline
	route, ok := n.routes[u]
	n.mu.Unlock()

	if offline {
		return nil, ErrOffline
	}
	if !ok {
		route = Route{Status: http.StatusNotFound, Body: "not found"}
	}
	if route.Hold != nil {
		select {
		case <-route.Hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if route.Err != nil {
		return nil, route.Err
	}

	header := route.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(route.Body)))
	return &http.Response{
		Status:        strconv.Itoa(route.Status) + " " + http.StatusText(route.Status),
		StatusCode:    route.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewBufferString(route.Body)),
		ContentLength: int64(len(route.Body)),
		Request:       req,
	}, nil
}
