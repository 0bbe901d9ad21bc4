package worker

import (
	"context"
	"net/http"
	"sync"

	"github.com/heavystatus/newsroom-edge/internal/clients"
	"github.com/heavystatus/newsroom-edge/internal/conf"
	"github.com/heavystatus/newsroom-edge/internal/errors"
	"github.com/heavystatus/newsroom-edge/internal/logger"
	"github.com/heavystatus/newsroom-edge/internal/observability/metrics"
	"github.com/heavystatus/newsroom-edge/internal/protocol"
)

// State is a lifecycle state of a Version.
type State string

const (
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Version is one release going through the lifecycle.
type Version struct {
	worker *Worker

	mu    sync.RWMutex
	state State
}

func (v *Version) Worker() *Worker { return v.worker }

// Version returns the release version tag.
func (v *Version) Version() string { return v.worker.release.Version }

func (v *Version) State() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

func (v *Version) setState(s State) {
	v.mu.Lock()
	v.state = s
	v.mu.Unlock()
}

// EventKind names an entry in the dispatch table.
type EventKind string

const (
	EventInstall           EventKind = "install"
	EventActivate          EventKind = "activate"
	EventMessage           EventKind = "message"
	EventFetch             EventKind = "fetch"
	EventPush              EventKind = "push"
	EventNotificationClick EventKind = "notificationclick"
	EventNotificationClose EventKind = "notificationclose"
)

// Event carries the inputs of one dispatch and, for fetches, its result.
type Event struct {
	Kind EventKind

	// Install and activate.
	Version *Version
	// Message.
	ClientID string
	Message  protocol.Message
	// Fetch.
	Fetch    FetchEvent
	Response *http.Response
	Handled  bool
	// Push and notification events.
	Payload []byte
	Tag     string
}

// Handler processes one event.
type Handler func(ctx context.Context, ev *Event) error

// Factory builds the worker for a release.
type Factory func(release conf.Release) (*Worker, error)

// Options configures a Registration.
type Options struct {
	Clients *clients.Registry
	Metrics *metrics.Metrics
	Log     logger.Logger
}

// Registration holds the installing, waiting and active versions and routes
// events to handlers. At most one version occupies each slot.
type Registration struct {
	factory Factory
	clients *clients.Registry
	metrics *metrics.Metrics
	log     logger.Logger

	// lifecycle serializes install and activation.
	lifecycle sync.Mutex

	mu         sync.RWMutex
	installing *Version
	waiting    *Version
	active     *Version
	handlers   map[EventKind]Handler
}

// NewRegistration creates a registration with the install, activate,
// message and fetch handlers in place. Push and notification handlers are
// attached with On.
func NewRegistration(factory Factory, opts Options) *Registration {
	log := opts.Log
	if log == nil {
		log = logger.NewNop()
	}
	reg := opts.Clients
	if reg == nil {
		reg = clients.NewRegistry(clients.Options{Metrics: opts.Metrics, Log: log})
	}
	r := &Registration{
		factory: factory,
		clients: reg,
		metrics: opts.Metrics,
		log:     log.Module("registration"),
	}
	r.handlers = map[EventKind]Handler{
		EventInstall:  r.onInstall,
		EventActivate: r.onActivate,
		EventMessage:  r.onMessage,
		EventFetch:    r.onFetch,
	}
	return r
}

// On sets the handler for kind, replacing any existing one.
func (r *Registration) On(kind EventKind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Dispatch runs the handler for ev.Kind. Events without a handler are
// dropped.
func (r *Registration) Dispatch(ctx context.Context, ev *Event) error {
	r.mu.RLock()
	h, ok := r.handlers[ev.Kind]
	r.mu.RUnlock()
	if !ok {
		r.log.Debug("no handler for event", logger.String("event", string(ev.Kind)))
		return nil
	}
	return h(ctx, ev)
}

func (r *Registration) Clients() *clients.Registry { return r.clients }

// Active returns the active worker, or nil.
func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return nil
	}
	return r.active.worker
}

// ActiveVersion returns the active version tag, or "".
func (r *Registration) ActiveVersion() string {
	if w := r.Active(); w != nil {
		return w.release.Version
	}
	return ""
}

// State reports which versions occupy the lifecycle slots.
func (r *Registration) State() protocol.RegistrationState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s protocol.RegistrationState
	if r.active != nil {
		s.Active = r.active.Version()
	}
	if r.waiting != nil {
		s.Waiting = r.waiting.Version()
	}
	if r.installing != nil {
		s.Installing = r.installing.Version()
	}
	return s
}

// Register installs release. With nothing active, or when the release asks
// to skip waiting, it activates at once; otherwise it waits and replaces any
// version already waiting. Registering a version already known is a no-op.
func (r *Registration) Register(ctx context.Context, release conf.Release) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.known(release.Version) {
		r.log.Debug("release already registered", logger.String("version", release.Version))
		return nil
	}

	w, err := r.factory(release)
	if err != nil {
		return errors.New(err).
			Component("worker").
			Category(errors.CategoryLifecycle).
			Context("version", release.Version).
			Build()
	}
	v := &Version{worker: w}

	r.mu.Lock()
	r.installing = v
	r.mu.Unlock()
	r.transition(v, StateInstalling)
	r.broadcastState()

	if err := r.Dispatch(ctx, &Event{Kind: EventInstall, Version: v}); err != nil {
		r.mu.Lock()
		r.installing = nil
		r.mu.Unlock()
		r.transition(v, StateRedundant)
		r.broadcastState()
		r.log.Error("install failed", logger.String("version", v.Version()), logger.Error(err))
		return err
	}

	// A release that activates at once never occupies the waiting slot, so
	// pages are not offered an update for it.
	r.mu.Lock()
	r.installing = nil
	replaced := r.waiting
	activateNow := r.active == nil || release.SkipWaiting
	if activateNow {
		r.waiting = nil
	} else {
		r.waiting = v
	}
	r.mu.Unlock()

	r.transition(v, StateInstalled)
	if replaced != nil {
		r.transition(replaced, StateRedundant)
	}
	if activateNow {
		return r.activate(ctx, v)
	}
	r.broadcastState()
	r.log.Info("release installed and waiting",
		logger.String("version", v.Version()),
		logger.String("active", r.ActiveVersion()))
	return nil
}

// SkipWaiting promotes the waiting version. It reports false when nothing
// was waiting.
func (r *Registration) SkipWaiting(ctx context.Context) (bool, error) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.RLock()
	v := r.waiting
	r.mu.RUnlock()
	if v == nil {
		r.log.Debug("skip waiting with no waiting version")
		return false, nil
	}
	return true, r.activate(ctx, v)
}

// activate must run under r.lifecycle.
func (r *Registration) activate(ctx context.Context, v *Version) error {
	r.mu.Lock()
	prev := r.active
	r.active = v
	if r.waiting == v {
		r.waiting = nil
	}
	r.mu.Unlock()

	r.transition(v, StateActivating)
	if prev != nil {
		r.transition(prev, StateRedundant)
	}
	r.broadcastState()

	err := r.Dispatch(ctx, &Event{Kind: EventActivate, Version: v})

	r.transition(v, StateActivated)
	r.metrics.SetActiveVersion(v.Version())
	r.broadcastState()
	if err != nil {
		r.log.Error("activation incomplete", logger.String("version", v.Version()), logger.Error(err))
		return err
	}
	r.log.Info("release activated", logger.String("version", v.Version()))
	return nil
}

// HandleMessage dispatches a message received from a client window.
func (r *Registration) HandleMessage(ctx context.Context, clientID string, msg protocol.Message) error {
	return r.Dispatch(ctx, &Event{Kind: EventMessage, ClientID: clientID, Message: msg})
}

// NewFetchEvent wraps req, starting a navigation preload when the active
// worker has preload enabled.
func (r *Registration) NewFetchEvent(ctx context.Context, req *http.Request) FetchEvent {
	fe := FetchEvent{Request: req}
	w := r.Active()
	if w != nil && w.PreloadEnabled() && w.net != nil && w.Classify(req) == KindNavigation {
		fe.Preload = StartPreload(ctx, w.net, req)
	}
	return fe
}

// HandleFetch dispatches a fetch. handled is false when there is no active
// worker or the request is not intercepted.
func (r *Registration) HandleFetch(ctx context.Context, fe FetchEvent) (*http.Response, bool, error) {
	ev := &Event{Kind: EventFetch, Fetch: fe}
	if err := r.Dispatch(ctx, ev); err != nil {
		return nil, true, err
	}
	return ev.Response, ev.Handled, nil
}

// Push dispatches a push payload.
func (r *Registration) Push(ctx context.Context, payload []byte) error {
	return r.Dispatch(ctx, &Event{Kind: EventPush, Payload: payload})
}

// NotificationClick dispatches a click on the notification with tag.
func (r *Registration) NotificationClick(ctx context.Context, tag string) error {
	return r.Dispatch(ctx, &Event{Kind: EventNotificationClick, Tag: tag})
}

// ClientConnected sends the current registration state to a new window.
func (r *Registration) ClientConnected(c *clients.Client) {
	if err := c.PostMessage(protocol.Registration(r.State())); err != nil {
		r.log.Debug("failed to send registration state", logger.String("client_id", c.ID()), logger.Error(err))
	}
}

func (r *Registration) onInstall(ctx context.Context, ev *Event) error {
	return ev.Version.worker.cache.EnsurePrecached(ctx)
}

// onActivate sweeps stale partitions, enables navigation preload, claims
// every window and then announces the new version, strictly in that order.
func (r *Registration) onActivate(ctx context.Context, ev *Event) error {
	w := ev.Version.worker
	if _, err := w.cache.SweepStaleVersions(ctx, w.cache.ActiveNames()); err != nil {
		return err
	}
	w.EnablePreload()
	claimed := r.clients.Claim(w.release.Version)
	sent := r.clients.Broadcast(protocol.Activated(w.release.Version))
	r.log.Debug("clients claimed",
		logger.String("version", w.release.Version),
		logger.Int("claimed", claimed),
		logger.Int("notified", sent))
	return nil
}

func (r *Registration) onMessage(ctx context.Context, ev *Event) error {
	switch ev.Message.Type {
	case protocol.TypeSkipWaiting:
		_, err := r.SkipWaiting(ctx)
		return err
	case protocol.TypeClientState:
		r.clients.UpdateState(ev.ClientID, ev.Message)
		return nil
	case protocol.TypeNotificationClick:
		return r.Dispatch(ctx, &Event{Kind: EventNotificationClick, Tag: ev.Message.Tag})
	case protocol.TypeNotificationClose:
		return r.Dispatch(ctx, &Event{Kind: EventNotificationClose, Tag: ev.Message.Tag})
	default:
		r.log.Debug("ignoring message",
			logger.String("type", ev.Message.Type),
			logger.String("client_id", ev.ClientID))
		return nil
	}
}

func (r *Registration) onFetch(ctx context.Context, ev *Event) error {
	w := r.Active()
	if w == nil {
		return nil
	}
	resp, handled, err := w.HandleFetch(ctx, ev.Fetch)
	if err != nil {
		return err
	}
	ev.Response, ev.Handled = resp, handled
	return nil
}

func (r *Registration) known(version string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range []*Version{r.active, r.waiting, r.installing} {
		if v != nil && v.Version() == version {
			return true
		}
	}
	return false
}

func (r *Registration) transition(v *Version, s State) {
	if s == StateRedundant {
		v.worker.cache.Retire()
	}
	v.setState(s)
	r.metrics.RecordTransition(string(s))
	r.log.Debug("lifecycle transition",
		logger.String("version", v.Version()),
		logger.String("state", string(s)))
}

func (r *Registration) broadcastState() {
	r.clients.Broadcast(protocol.Registration(r.State()))
}
