package push

import (
	"context"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/heavystatus/newsroom-edge/internal/clients"
	"github.com/heavystatus/newsroom-edge/internal/conf"
	"github.com/heavystatus/newsroom-edge/internal/errors"
	"github.com/heavystatus/newsroom-edge/internal/logger"
	"github.com/heavystatus/newsroom-edge/internal/observability/metrics"
	"github.com/heavystatus/newsroom-edge/internal/protocol"
	"github.com/heavystatus/newsroom-edge/internal/worker"
)

// ErrUnknownNotification is returned for clicks on a tag that is not shown.
var ErrUnknownNotification = errors.NewStd("no notification with that tag")

// Displayer shows a notification somewhere the reader will see it.
type Displayer interface {
	Name() string
	Display(ctx context.Context, n Descriptor) error
}

// Options configures a Bridge.
type Options struct {
	Defaults conf.NotificationDefaults
	// Origin is the site origin. Notification URLs resolve against it and
	// only windows on it are reused on click.
	Origin     *url.URL
	Clients    *clients.Registry
	Displayers []Displayer
	Metrics    *metrics.Metrics
	Log        logger.Logger
}

// Bridge shows a notification for every push and handles clicks on them.
// Shown notifications are kept by tag, so a push with a tag already shown
// replaces it.
type Bridge struct {
	defaults   conf.NotificationDefaults
	origin     *url.URL
	clients    *clients.Registry
	displayers []Displayer
	metrics    *metrics.Metrics
	log        logger.Logger
	now        func() time.Time

	mu     sync.Mutex
	active map[string]Descriptor
}

// NewBridge creates a bridge.
func NewBridge(opts Options) *Bridge {
	log := opts.Log
	if log == nil {
		log = logger.NewNop()
	}
	reg := opts.Clients
	if reg == nil {
		reg = clients.NewRegistry(clients.Options{Log: log})
	}
	return &Bridge{
		defaults:   opts.Defaults,
		origin:     opts.Origin,
		clients:    reg,
		displayers: opts.Displayers,
		metrics:    opts.Metrics,
		log:        log.Module("push"),
		now:        time.Now,
		active:     make(map[string]Descriptor),
	}
}

// Attach routes the registration's push and notification events here.
func (b *Bridge) Attach(reg *worker.Registration) {
	reg.On(worker.EventPush, func(ctx context.Context, ev *worker.Event) error {
		_, err := b.OnPush(ctx, ev.Payload)
		return err
	})
	reg.On(worker.EventNotificationClick, func(ctx context.Context, ev *worker.Event) error {
		return b.OnNotificationClick(ctx, ev.Tag)
	})
	reg.On(worker.EventNotificationClose, func(_ context.Context, ev *worker.Event) error {
		b.Close(ev.Tag)
		return nil
	})
}

// OnPush shows a notification for raw. The notification is recorded and
// handed to every displayer even when some of them fail; the returned error
// joins the delivery failures.
func (b *Bridge) OnPush(ctx context.Context, raw []byte) (Descriptor, error) {
	d := ParsePayload(raw, b.defaults, b.now())

	b.mu.Lock()
	_, replaced := b.active[d.Tag]
	b.active[d.Tag] = d
	b.mu.Unlock()

	var errs []error
	for _, disp := range b.displayers {
		if err := disp.Display(ctx, d); err != nil {
			b.metrics.RecordPushEvent("delivery_failed")
			b.log.Warn("notification delivery failed",
				logger.String("displayer", disp.Name()),
				logger.String("tag", d.Tag),
				logger.Error(err))
			errs = append(errs, err)
		}
	}
	b.metrics.RecordPushEvent("shown")
	b.log.Info("notification shown",
		logger.String("tag", d.Tag),
		logger.String("title", d.Title),
		logger.Bool("replaced", replaced))

	if len(errs) > 0 {
		return d, errors.New(errors.Join(errs...)).
			Component("push").
			Category(errors.CategoryPush).
			Context("tag", d.Tag).
			Build()
	}
	return d, nil
}

// Lookup returns the shown notification with tag.
func (b *Bridge) Lookup(tag string) (Descriptor, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.active[tag]
	return d, ok
}

// Active returns the shown notifications ordered by tag.
func (b *Bridge) Active() []Descriptor {
	b.mu.Lock()
	out := make([]Descriptor, 0, len(b.active))
	for _, d := range b.active {
		out = append(out, d)
	}
	b.mu.Unlock()
	slices.SortFunc(out, func(a, c Descriptor) int { return strings.Compare(a.Tag, c.Tag) })
	return out
}

// Close dismisses the notification with tag and tells every window. It
// reports whether one was shown.
func (b *Bridge) Close(tag string) bool {
	b.mu.Lock()
	_, ok := b.active[tag]
	delete(b.active, tag)
	b.mu.Unlock()
	if !ok {
		return false
	}
	b.clients.Broadcast(protocol.CloseNotification(tag))
	b.metrics.RecordPushEvent("closed")
	return true
}

// OnNotificationClick closes the notification, then reuses a window on the
// site origin by navigating and focusing it. With no such window it opens
// a new one at the notification URL.
func (b *Bridge) OnNotificationClick(_ context.Context, tag string) error {
	d, ok := b.Lookup(tag)
	if !ok {
		return errors.New(ErrUnknownNotification).
			Component("push").
			Category(errors.CategoryValidation).
			Context("tag", tag).
			Build()
	}
	b.Close(tag)
	b.metrics.RecordPushEvent("clicked")

	target := b.resolve(d.URL)
	origin := b.originString()
	for _, c := range b.clients.MatchAll(true) {
		if c.Origin() != origin {
			continue
		}
		if err := c.Navigate(target); err != nil {
			b.log.Debug("window navigation failed, trying next", logger.String("client_id", c.ID()), logger.Error(err))
			continue
		}
		if err := c.Focus(); err != nil {
			b.log.Debug("window focus failed", logger.String("client_id", c.ID()), logger.Error(err))
		}
		b.log.Info("notification click reused window",
			logger.String("client_id", c.ID()),
			logger.String("url", target))
		return nil
	}

	b.clients.OpenWindow(target)
	return nil
}

func (b *Bridge) resolve(raw string) string {
	if raw == "" {
		raw = b.defaults.URL
	}
	if b.origin == nil {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return b.origin.ResolveReference(ref).String()
}

func (b *Bridge) originString() string {
	if b.origin == nil {
		return ""
	}
	return b.origin.Scheme + "://" + b.origin.Host
}
