package worker

import (
	"context"
	"net/http"

	"github.com/heavystatus/newsroom-edge/internal/network"
)

// PreloadHeader marks fetches started by navigation preload, as browsers do.
const PreloadHeader = "Service-Worker-Navigation-Preload"

// Preload is a navigation response whose fetch started before the request
// reached a strategy.
type Preload struct {
	done chan struct{}
	resp *http.Response
	err  error
}

// StartPreload begins fetching req in the background.
func StartPreload(ctx context.Context, net network.Network, req *http.Request) *Preload {
	p := &Preload{done: make(chan struct{})}
	out := req.Clone(ctx)
	out.Header.Set(PreloadHeader, "true")
	go func() {
		defer close(p.done)
		p.resp, p.err = net.Fetch(ctx, out)
	}()
	return p
}

// ResolvedPreload wraps an already known outcome.
func ResolvedPreload(resp *http.Response, err error) *Preload {
	p := &Preload{done: make(chan struct{}), resp: resp, err: err}
	close(p.done)
	return p
}

// Wait blocks until the preload settles or ctx ends. When ctx ends first,
// the response that arrives later is discarded.
func (p *Preload) Wait(ctx context.Context) (*http.Response, error) {
	select {
	case <-p.done:
		return p.resp, p.err
	case <-ctx.Done():
		go p.discard()
		return nil, ctx.Err()
	}
}

func (p *Preload) discard() {
	<-p.done
	if p.resp != nil && p.resp.Body != nil {
		_ = p.resp.Body.Close()
	}
}

// FetchEvent is one intercepted request.
type FetchEvent struct {
	Request *http.Request
	// Preload is set for navigations when navigation preload is enabled.
	Preload *Preload
}
