// Package worker intercepts fetches for one release and drives the release
// lifecycle: install, wait, activate, and retire.
package worker

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/heavystatus/newsroom-edge/internal/cachestore"
	"github.com/heavystatus/newsroom-edge/internal/conf"
	"github.com/heavystatus/newsroom-edge/internal/logger"
	"github.com/heavystatus/newsroom-edge/internal/network"
	"github.com/heavystatus/newsroom-edge/internal/observability/metrics"
)

// Worker routes fetches for one release to its strategies.
type Worker struct {
	release conf.Release
	cache   *cachestore.Manager
	net     network.Network
	origin  *url.URL
	rules   Rules
	metrics *metrics.Metrics
	log     logger.Logger

	preload atomic.Bool
}

// Config holds what a Worker needs beyond its cache manager.
type Config struct {
	Origin  *url.URL
	Rules   Rules
	Network network.Network
	Metrics *metrics.Metrics
	Log     logger.Logger
}

// New creates the worker for the release owned by cache.
func New(cache *cachestore.Manager, cfg Config) *Worker {
	log := cfg.Log
	if log == nil {
		log = logger.NewNop()
	}
	release := cache.Release()
	return &Worker{
		release: release,
		cache:   cache,
		net:     cfg.Network,
		origin:  cfg.Origin,
		rules:   cfg.Rules,
		metrics: cfg.Metrics,
		log:     log.Module("worker").With(logger.String("version", release.Version)),
	}
}

func (w *Worker) Release() conf.Release { return w.release }

func (w *Worker) Cache() *cachestore.Manager { return w.cache }

// EnablePreload turns on navigation preload for this worker.
func (w *Worker) EnablePreload() { w.preload.Store(true) }

func (w *Worker) PreloadEnabled() bool { return w.preload.Load() }

// Classify routes req with this worker's origin and rules.
func (w *Worker) Classify(req *http.Request) Kind {
	return Classify(req, w.origin, w.rules)
}

// HandleFetch answers fe. handled is false when the request is not
// intercepted and should go to the network untouched.
func (w *Worker) HandleFetch(ctx context.Context, fe FetchEvent) (resp *http.Response, handled bool, err error) {
	switch w.Classify(fe.Request) {
	case KindNavigation:
		resp, err = w.NetworkFirst(ctx, fe)
	case KindStatic, KindCrossOriginImage:
		resp, err = w.CacheFirst(ctx, fe)
	default:
		return nil, false, nil
	}
	return resp, true, err
}
