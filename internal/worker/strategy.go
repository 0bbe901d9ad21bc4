package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/heavystatus/newsroom-edge/internal/cachestore"
	"github.com/heavystatus/newsroom-edge/internal/conf"
	"github.com/heavystatus/newsroom-edge/internal/logger"
	"github.com/heavystatus/newsroom-edge/internal/observability/metrics"
)

const (
	strategyNetworkFirst = "network-first"
	strategyCacheFirst   = "cache-first"
)

// NetworkFirst serves a navigation. The live response always wins; the data
// partition, then the shell's offline document, then a synthesized 503 are
// fallbacks consulted only after the network attempt failed. Network
// failures never surface as errors; only storage failures do.
func (w *Worker) NetworkFirst(ctx context.Context, fe FetchEvent) (*http.Response, error) {
	req := fe.Request
	key, keyErr := cachestore.KeyFor(req)

	resp, outcome, err := w.navigationResponse(ctx, fe)
	if err == nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 && keyErr == nil {
			w.storeNavigation(ctx, key, resp)
		}
		w.metrics.RecordOutcome(strategyNetworkFirst, outcome)
		return resp, nil
	}

	w.log.Debug("navigation network failed, using fallbacks",
		logger.String("url", req.URL.String()),
		logger.Error(err))

	if keyErr == nil {
		snap, ok, err := w.cache.Get(ctx, conf.RoleData, key)
		if err != nil {
			return nil, err
		}
		if ok {
			w.metrics.RecordOutcome(strategyNetworkFirst, metrics.OutcomeDataCache)
			return snap.Response(req), nil
		}
	}

	snap, ok, err := w.cache.OfflineDocument(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		w.metrics.RecordOutcome(strategyNetworkFirst, metrics.OutcomeShell)
		return snap.Response(req), nil
	}

	w.metrics.RecordOutcome(strategyNetworkFirst, metrics.OutcomeSynthesized)
	return cachestore.Synthesize(req, http.StatusServiceUnavailable, "Offline", "Offline"), nil
}

// navigationResponse takes the preload when one settled with a response and
// otherwise goes to the network. A failed preload counts as a failed
// network attempt; no second fetch is made.
func (w *Worker) navigationResponse(ctx context.Context, fe FetchEvent) (*http.Response, string, error) {
	if fe.Preload != nil {
		resp, err := fe.Preload.Wait(ctx)
		if err != nil {
			return nil, "", err
		}
		if resp != nil {
			return resp, metrics.OutcomePreload, nil
		}
	}
	resp, err := w.net.Fetch(ctx, fe.Request)
	if err != nil {
		return nil, "", err
	}
	return resp, metrics.OutcomeNetwork, nil
}

func (w *Worker) storeNavigation(ctx context.Context, key string, resp *http.Response) {
	snap, err := cachestore.Capture(resp)
	if err != nil {
		w.log.Warn("failed to capture navigation response", logger.String("key", key), logger.Error(err))
		return
	}
	err = w.cache.Put(ctx, conf.RoleData, key, snap)
	if err != nil && !errors.Is(err, cachestore.ErrNotCacheable) && !errors.Is(err, cachestore.ErrRetired) {
		w.log.Warn("failed to store navigation response", logger.String("key", key), logger.Error(err))
	}
}

// CacheFirst serves a static asset or image from the runtime partition,
// refilling it from the network on a miss. Only status 200 is stored. A
// network failure yields an empty 408.
func (w *Worker) CacheFirst(ctx context.Context, fe FetchEvent) (*http.Response, error) {
	req := fe.Request
	key, err := cachestore.KeyFor(req)
	if err != nil {
		return nil, err
	}

	snap, ok, err := w.cache.Get(ctx, conf.RoleRuntime, key)
	if err != nil {
		return nil, err
	}
	if ok {
		w.metrics.RecordOutcome(strategyCacheFirst, metrics.OutcomeCacheHit)
		return snap.Response(req), nil
	}

	resp, err := w.net.Fetch(ctx, req)
	if err != nil {
		w.log.Debug("asset fetch failed", logger.String("url", req.URL.String()), logger.Error(err))
		w.metrics.RecordOutcome(strategyCacheFirst, metrics.OutcomeFailed)
		return cachestore.Synthesize(req, http.StatusRequestTimeout, "", ""), nil
	}
	if resp.StatusCode != http.StatusOK {
		w.metrics.RecordOutcome(strategyCacheFirst, metrics.OutcomeNetwork)
		return resp, nil
	}

	snap, err = cachestore.Capture(resp)
	if err != nil {
		return nil, err
	}
	if err := w.cache.Put(ctx, conf.RoleRuntime, key, snap); err != nil && !errors.Is(err, cachestore.ErrRetired) {
		return nil, err
	}
	w.metrics.RecordOutcome(strategyCacheFirst, metrics.OutcomeRefill)
	return resp, nil
}
