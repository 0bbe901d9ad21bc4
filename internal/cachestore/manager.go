package cachestore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/heavystatus/newsroom-edge/internal/conf"
	"github.com/heavystatus/newsroom-edge/internal/errors"
	"github.com/heavystatus/newsroom-edge/internal/logger"
	"github.com/heavystatus/newsroom-edge/internal/network"
	"github.com/heavystatus/newsroom-edge/internal/observability/metrics"
)

const defaultPrecacheConcurrency = 4

// Options configures a Manager.
type Options struct {
	// Origin is the site origin precache paths resolve against.
	Origin *url.URL
	// Precache lists the shell manifest: offline document and icons.
	Precache []string
	// OfflineDocument is the shell entry served to offline navigations.
	OfflineDocument string
	// Concurrency bounds parallel precache fetches.
	Concurrency int
	Network     network.Network
	Metrics     *metrics.Metrics
	Log         logger.Logger
}

// Manager owns the partitions of one release.
type Manager struct {
	release  conf.Release
	storage  Storage
	opts     Options
	log      logger.Logger
	metrics  *metrics.Metrics
	offline  string
	manifest []string

	// mu orders Retire after in-flight reads and writes.
	mu      sync.RWMutex
	retired bool
}

// NewManager creates a manager for release over storage.
func NewManager(release conf.Release, storage Storage, opts Options) (*Manager, error) {
	if err := release.Validate(); err != nil {
		return nil, err
	}
	if opts.Origin == nil || !opts.Origin.IsAbs() {
		return nil, fmt.Errorf("cache manager requires an absolute origin")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultPrecacheConcurrency
	}
	log := opts.Log
	if log == nil {
		log = logger.NewNop()
	}
	m := &Manager{
		release: release,
		storage: storage,
		opts:    opts,
		log:     log.Module("cachestore").With(logger.String("release", release.Version)),
		metrics: opts.Metrics,
	}
	if opts.OfflineDocument != "" {
		m.offline = m.resolve(opts.OfflineDocument)
	}
	for _, p := range opts.Precache {
		m.manifest = append(m.manifest, m.resolve(p))
	}
	return m, nil
}

// Release returns the release whose partitions this manager owns.
func (m *Manager) Release() conf.Release {
	return m.release
}

// Retire stops the manager from writing or creating partitions. It waits
// for lookups and writes already in progress, so a sweep that follows sees
// them.
func (m *Manager) Retire() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.retired {
		m.retired = true
		m.log.Debug("release retired")
	}
}

func (m *Manager) Retired() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retired
}

// ActiveNames returns the partition names of this release.
func (m *Manager) ActiveNames() []string {
	return m.release.CacheNames()
}

func (m *Manager) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return path
	}
	return m.opts.Origin.ResolveReference(ref).String()
}

// EnsurePrecached opens the shell partition and stores every manifest entry
// that is not already there. Missing entries are fetched concurrently and
// stored only if all of them succeed, so a failed install leaves the shell
// partition as it was.
func (m *Manager) EnsurePrecached(ctx context.Context) error {
	shell, err := m.storage.Open(ctx, m.release.CacheName(conf.RoleShell))
	if err != nil {
		return m.cacheError(err, "open shell partition")
	}

	var missing []string
	for _, u := range m.manifest {
		key, err := RequestKey(http.MethodGet, u)
		if err != nil {
			return err
		}
		if _, ok, err := shell.Match(ctx, key); err != nil {
			return m.cacheError(err, "match precache entry")
		} else if !ok {
			missing = append(missing, u)
		}
	}
	if len(missing) == 0 {
		m.log.Debug("shell partition already populated", logger.Int("entries", len(m.manifest)))
		return nil
	}
	if m.opts.Network == nil {
		return fmt.Errorf("cannot precache %d entries without a network", len(missing))
	}

	snaps := make([]*Snapshot, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)
	for i, u := range missing {
		g.Go(func() error {
			snap, err := m.fetchPrecacheEntry(gctx, u)
			if err != nil {
				return err
			}
			snaps[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.New(err).
			Component("cachestore").
			Category(errors.CategoryNetwork).
			Context("operation", "precache").
			Build()
	}

	for i, u := range missing {
		key, _ := RequestKey(http.MethodGet, u)
		if err := shell.Put(ctx, key, snaps[i]); err != nil {
			return m.cacheError(err, "store precache entry")
		}
	}
	m.log.Info("shell partition populated",
		logger.Int("fetched", len(missing)),
		logger.Int("entries", len(m.manifest)))
	return nil
}

func (m *Manager) fetchPrecacheEntry(ctx context.Context, u string) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := m.opts.Network.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("precache %s: %w", u, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("precache %s: unexpected status %d", u, resp.StatusCode)
	}
	if resp.Request == nil {
		resp.Request = req
	}
	return Capture(resp)
}

// SweepStaleVersions deletes every partition in this application's
// namespace that is not in active, plus every partition left by a legacy
// naming scheme. It returns the deleted names.
func (m *Manager) SweepStaleVersions(ctx context.Context, active []string) ([]string, error) {
	keep := make(map[string]struct{}, len(active))
	for _, n := range active {
		keep[n] = struct{}{}
	}

	names, err := m.storage.Names(ctx)
	if err != nil {
		return nil, m.cacheError(err, "list partitions")
	}

	var deleted []string
	for _, name := range names {
		if _, ok := keep[name]; ok {
			continue
		}
		if !m.release.Owns(name) && !m.release.IsLegacy(name) {
			continue
		}
		ok, err := m.storage.Delete(ctx, name)
		if err != nil {
			return deleted, m.cacheError(err, "delete partition "+name)
		}
		if ok {
			deleted = append(deleted, name)
		}
	}
	if len(deleted) > 0 {
		m.log.Info("swept stale partitions", logger.Strings("deleted", deleted))
	}
	m.metrics.RecordSwept(len(deleted))
	return deleted, nil
}

// Get looks up key in the partition for role. A retired manager reads only
// partitions that still exist.
func (m *Manager) Get(ctx context.Context, role, key string) (*Snapshot, bool, error) {
	name := m.release.CacheName(role)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.retired {
		exists, err := m.storage.Has(ctx, name)
		if err != nil {
			return nil, false, m.cacheError(err, "check partition")
		}
		if !exists {
			m.metrics.RecordCacheLookup(role, false)
			return nil, false, nil
		}
	}
	p, err := m.storage.Open(ctx, name)
	if err != nil {
		return nil, false, m.cacheError(err, "open partition")
	}
	snap, ok, err := p.Match(ctx, key)
	if err != nil {
		return nil, false, m.cacheError(err, "match")
	}
	m.metrics.RecordCacheLookup(role, ok)
	return snap, ok, nil
}

// Put stores snap under key in the partition for role. Only status 200 is
// stored; anything else returns ErrNotCacheable. A retired manager returns
// ErrRetired.
func (m *Manager) Put(ctx context.Context, role, key string, snap *Snapshot) error {
	if snap == nil || snap.Status != http.StatusOK {
		m.metrics.RecordCachePut(role, false)
		return ErrNotCacheable
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.retired {
		m.metrics.RecordCachePut(role, false)
		return ErrRetired
	}
	p, err := m.storage.Open(ctx, m.release.CacheName(role))
	if err != nil {
		return m.cacheError(err, "open partition")
	}
	if err := p.Put(ctx, key, snap); err != nil {
		return m.cacheError(err, "put")
	}
	m.metrics.RecordCachePut(role, true)
	return nil
}

// OfflineDocument returns the precached offline fallback, if present.
func (m *Manager) OfflineDocument(ctx context.Context) (*Snapshot, bool, error) {
	if m.offline == "" {
		return nil, false, nil
	}
	key, err := RequestKey(http.MethodGet, m.offline)
	if err != nil {
		return nil, false, err
	}
	return m.Get(ctx, conf.RoleShell, key)
}

func (m *Manager) cacheError(err error, op string) error {
	return errors.New(err).
		Component("cachestore").
		Category(errors.CategoryCache).
		Context("operation", op).
		Build()
}
