// Package app assembles the edge from settings: storage, the worker
// registration, client windows, push delivery and the HTTP server.
package app

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/heavystatus/newsroom-edge/internal/api"
	"github.com/heavystatus/newsroom-edge/internal/cachestore"
	"github.com/heavystatus/newsroom-edge/internal/clients"
	"github.com/heavystatus/newsroom-edge/internal/conf"
	"github.com/heavystatus/newsroom-edge/internal/content"
	"github.com/heavystatus/newsroom-edge/internal/datastore"
	"github.com/heavystatus/newsroom-edge/internal/datastore/repository"
	"github.com/heavystatus/newsroom-edge/internal/errors"
	"github.com/heavystatus/newsroom-edge/internal/logger"
	"github.com/heavystatus/newsroom-edge/internal/network"
	"github.com/heavystatus/newsroom-edge/internal/observability/metrics"
	"github.com/heavystatus/newsroom-edge/internal/push"
	"github.com/heavystatus/newsroom-edge/internal/telemetry"
	"github.com/heavystatus/newsroom-edge/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Storage is an opened cache backend. Close releases the database, if any.
type Storage struct {
	cachestore.Storage
	store datastore.Manager
}

// Close releases the backing database.
func (s *Storage) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

// OpenStorage opens the cache backend named in settings.
func OpenStorage(settings *conf.Settings) (*Storage, error) {
	var (
		store datastore.Manager
		err   error
	)
	switch settings.Cache.Backend {
	case "memory":
		return &Storage{Storage: cachestore.NewMemoryStorage()}, nil
	case "mysql":
		store, err = datastore.NewMySQLManager(datastore.Config{DSN: settings.Cache.MySQLDSN})
	default:
		store, err = datastore.NewSQLiteManager(datastore.Config{DataDir: settings.Cache.DataDir})
	}
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("backend", settings.Cache.Backend).
			Build()
	}
	if err := store.Initialize(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return &Storage{
		Storage: cachestore.NewGormStorage(repository.NewCacheRepository(store.DB())),
		store:   store,
	}, nil
}

// Options override components, mainly for tests.
type Options struct {
	Storage *Storage
	Network network.Network
	Metrics *metrics.Metrics
	Log     logger.Logger
}

// App is a fully wired edge.
type App struct {
	settings *conf.Settings
	origin   *url.URL
	log      logger.Logger

	storage  *Storage
	net      network.Network
	metrics  *metrics.Metrics
	reporter *telemetry.Reporter

	clients      *clients.Registry
	registration *worker.Registration
	bus          *push.Bus
	bridge       *push.Bridge
	mqtt         *push.MQTTSource
	content      *content.Client
	server       *api.Server

	// mu guards settings swaps from the config watcher.
	mu sync.Mutex
}

// New wires every component. Nothing is started.
func New(settings *conf.Settings, opts Options) (*App, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	origin, err := url.Parse(settings.Site.Origin())
	if err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = logger.NewNop()
	}
	a := &App{settings: settings, origin: origin, log: log.Module("app"), metrics: opts.Metrics}

	a.reporter, err = telemetry.NewReporter(settings.Sentry.DSN, settings.Sentry.Environment, settings.Release.Tag())
	if err != nil {
		a.log.Warn("sentry disabled", logger.Error(err))
		a.reporter = &telemetry.Reporter{}
	}

	a.storage = opts.Storage
	if a.storage == nil {
		if a.storage, err = OpenStorage(settings); err != nil {
			return nil, err
		}
	}

	a.net = opts.Network
	if a.net == nil {
		a.net = network.NewHTTPNetwork(settings.Network.UserAgent, settings.Network.Timeout.Std())
	}

	a.clients = clients.NewRegistry(clients.Options{
		LaunchTTL: settings.Clients.LaunchTTLOrDefault(),
		Metrics:   a.metrics,
		Log:       log,
	})
	a.registration = worker.NewRegistration(a.factory(), worker.Options{
		Clients: a.clients,
		Metrics: a.metrics,
		Log:     log,
	})

	if settings.Push.Enabled {
		if err := a.wirePush(log); err != nil {
			a.Close()
			return nil, err
		}
	}

	if settings.Content.GraphQLURL != "" {
		a.content, err = content.New(settings.Content.GraphQLURL, settings.Content.UserAgent, settings.Content.Timeout.Std())
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.server, err = api.New(api.Dependencies{
		Settings:     settings,
		Registration: a.registration,
		Clients:      a.clients,
		Bridge:       a.bridge,
		Bus:          a.bus,
		Network:      a.net,
		Content:      a.content,
		Metrics:      a.metrics,
		Reporter:     a.reporter,
		Log:          log,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wirePush(log logger.Logger) error {
	displayers := []push.Displayer{push.NewClientDisplayer(a.clients)}
	if len(a.settings.Push.ServiceURLs) > 0 {
		d, err := push.NewShoutrrrDisplayer(a.settings.Push.ServiceURLs)
		if err != nil {
			return err
		}
		displayers = append(displayers, d)
	}
	a.bridge = push.NewBridge(push.Options{
		Defaults:   a.settings.Push.Defaults,
		Origin:     a.origin,
		Clients:    a.clients,
		Displayers: displayers,
		Metrics:    a.metrics,
		Log:        log,
	})
	a.bridge.Attach(a.registration)

	a.bus = push.NewBus(a.metrics, log)
	a.bus.Subscribe(func(ctx context.Context, ev *push.Event) {
		if err := a.registration.Push(ctx, ev.Payload); err != nil {
			a.log.Warn("push delivery incomplete", logger.String("source", ev.Source), logger.Error(err))
		}
	})

	if a.settings.Push.MQTT.Broker != "" {
		src, err := push.NewMQTTSource(a.settings.Push.MQTT, a.bus, log)
		if err != nil {
			return err
		}
		a.mqtt = src
	}
	return nil
}

// factory builds a worker for a release over the shared storage.
func (a *App) factory() worker.Factory {
	return func(release conf.Release) (*worker.Worker, error) {
		a.mu.Lock()
		cache := a.settings.Cache
		a.mu.Unlock()
		m, err := cachestore.NewManager(release, a.storage, cachestore.Options{
			Origin:          a.origin,
			Precache:        cache.Precache,
			OfflineDocument: cache.OfflineDocument,
			Concurrency:     cache.PrecacheConcurrency,
			Network:         a.net,
			Metrics:         a.metrics,
			Log:             a.log,
		})
		if err != nil {
			return nil, err
		}
		return worker.New(m, worker.Config{
			Origin:  a.origin,
			Rules:   worker.DefaultRules().WithStaticPrefixes(cache.StaticPrefixes),
			Network: a.net,
			Metrics: a.metrics,
			Log:     a.log,
		}), nil
	}
}

// Registration exposes the worker registration.
func (a *App) Registration() *worker.Registration { return a.registration }

// Server exposes the HTTP server.
func (a *App) Server() *api.Server { return a.server }

// Bridge returns the push bridge, or nil when push is disabled.
func (a *App) Bridge() *push.Bridge { return a.bridge }

// Start registers the configured release and connects push sources. A
// broker that cannot be reached is logged; HTTP push keeps working.
func (a *App) Start(ctx context.Context) error {
	if err := a.registration.Register(ctx, a.settings.Release); err != nil {
		return err
	}
	if a.mqtt != nil {
		if err := a.mqtt.Start(ctx); err != nil {
			a.log.Warn("mqtt push source unavailable", logger.Error(err))
			a.reporter.Capture(err)
		}
	}
	return nil
}

// Reconfigure applies changed settings. A new release version is
// registered and goes through the normal install and waiting steps.
func (a *App) Reconfigure(ctx context.Context, next *conf.Settings) error {
	a.mu.Lock()
	prev := a.settings.Release
	a.settings.Cache = next.Cache
	a.settings.Release = next.Release
	a.mu.Unlock()

	if next.Release.Version == prev.Version && next.Release.Prefix == prev.Prefix {
		return nil
	}
	a.log.Info("release changed",
		logger.String("from", prev.Tag()),
		logger.String("to", next.Release.Tag()))
	return a.registration.Register(ctx, next.Release)
}

// Run starts the app and serves until ctx ends.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start(a.settings.WebServer.Listen)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("server shutdown incomplete", logger.Error(err))
	}
	return <-errCh
}

// Close stops push delivery and releases storage.
func (a *App) Close() {
	if a.mqtt != nil {
		a.mqtt.Stop()
	}
	if a.bus != nil {
		a.bus.Stop()
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.log.Warn("failed to close cache storage", logger.Error(err))
		}
	}
	a.reporter.Flush(2 * time.Second)
}
