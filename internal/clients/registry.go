// Package clients tracks the page windows connected to the edge. A Client
// is a handle used to route focus and navigation; it is never consulted for
// caching.
package clients

import (
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heavystatus/newsroom-edge/internal/logger"
	"github.com/heavystatus/newsroom-edge/internal/observability/metrics"
	"github.com/heavystatus/newsroom-edge/internal/protocol"
)

// Conn delivers messages to one window.
type Conn interface {
	Send(msg protocol.Message) error
	Close() error
}

// Client is one connected window.
type Client struct {
	id          string
	conn        Conn
	connectedAt time.Time

	mu          sync.RWMutex
	url         string
	focused     bool
	visible     bool
	controller  string
	lastFocused time.Time
}

func (c *Client) ID() string { return c.id }

func (c *Client) URL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url
}

func (c *Client) Focused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.focused
}

// Controller returns the release version controlling this window, or "" when
// uncontrolled.
func (c *Client) Controller() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.controller
}

// Origin returns scheme://host of the window URL.
func (c *Client) Origin() string {
	u, err := url.Parse(c.URL())
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// PostMessage sends msg to the window.
func (c *Client) PostMessage(msg protocol.Message) error {
	return c.conn.Send(msg)
}

// Navigate points the window at target.
func (c *Client) Navigate(target string) error {
	if err := c.conn.Send(protocol.Navigate(target)); err != nil {
		return fmt.Errorf("navigate client %s: %w", c.id, err)
	}
	c.mu.Lock()
	c.url = target
	c.mu.Unlock()
	return nil
}

// Focus brings the window to the foreground.
func (c *Client) Focus() error {
	if err := c.conn.Send(protocol.Focus()); err != nil {
		return fmt.Errorf("focus client %s: %w", c.id, err)
	}
	c.mu.Lock()
	c.focused = true
	c.lastFocused = time.Now()
	c.mu.Unlock()
	return nil
}

type pendingLaunch struct {
	url     string
	expires time.Time
}

// Options configures a Registry.
type Options struct {
	// LaunchTTL is how long a queued window launch waits for a window to
	// connect.
	LaunchTTL time.Duration
	Metrics   *metrics.Metrics
	Log       logger.Logger
}

// Registry holds the connected windows.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	launches []pendingLaunch

	launchTTL time.Duration
	metrics   *metrics.Metrics
	log       logger.Logger
	now       func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	log := opts.Log
	if log == nil {
		log = logger.NewNop()
	}
	ttl := opts.LaunchTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Registry{
		clients:   make(map[string]*Client),
		launchTTL: ttl,
		metrics:   opts.Metrics,
		log:       log.Module("clients"),
		now:       time.Now,
	}
}

// Connect registers a window at pageURL. controller is the active release
// version, or "" when nothing is active. A queued launch, if any, is
// delivered to the new window as a navigation.
func (r *Registry) Connect(conn Conn, pageURL, controller string) *Client {
	now := r.now()
	c := &Client{
		id:          uuid.New().String(),
		conn:        conn,
		connectedAt: now,
		url:         pageURL,
		visible:     true,
		controller:  controller,
	}

	r.mu.Lock()
	r.clients[c.id] = c
	launch, ok := r.popLaunchLocked(now)
	count := len(r.clients)
	r.mu.Unlock()

	r.metrics.SetClients(count)
	r.log.Debug("client connected",
		logger.String("client_id", c.id),
		logger.String("url", pageURL),
		logger.String("controller", controller))

	if ok {
		if err := c.Navigate(launch); err != nil {
			r.log.Warn("failed to deliver queued launch", logger.String("url", launch), logger.Error(err))
		}
	}
	return c
}

// Disconnect forgets a window.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	_, ok := r.clients[id]
	delete(r.clients, id)
	count := len(r.clients)
	r.mu.Unlock()

	if ok {
		r.metrics.SetClients(count)
		r.log.Debug("client disconnected", logger.String("client_id", id))
	}
}

func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// MatchAll returns connected windows, focused first and then by most recent
// focus. Uncontrolled windows are included only when asked for.
func (r *Registry) MatchAll(includeUncontrolled bool) []*Client {
	r.mu.RLock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if includeUncontrolled || c.Controller() != "" {
			out = append(out, c)
		}
	}
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b *Client) int {
		a.mu.RLock()
		af, al, ac := a.focused, a.lastFocused, a.connectedAt
		a.mu.RUnlock()
		b.mu.RLock()
		bf, bl, bc := b.focused, b.lastFocused, b.connectedAt
		b.mu.RUnlock()
		switch {
		case af != bf:
			if af {
				return -1
			}
			return 1
		case !al.Equal(bl):
			return bl.Compare(al)
		default:
			return bc.Compare(ac)
		}
	})
	return out
}

// Claim makes version the controller of every connected window and returns
// how many windows changed controller.
func (r *Registry) Claim(version string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	changed := 0
	for _, c := range r.clients {
		c.mu.Lock()
		if c.controller != version {
			c.controller = version
			changed++
		}
		c.mu.Unlock()
	}
	return changed
}

// Broadcast sends msg to every connected window and returns how many
// received it. Delivery failures are logged and skipped.
func (r *Registry) Broadcast(msg protocol.Message) int {
	targets := r.MatchAll(true)
	sent := 0
	for _, c := range targets {
		if err := c.PostMessage(msg); err != nil {
			r.log.Warn("broadcast delivery failed",
				logger.String("client_id", c.ID()),
				logger.String("type", msg.Type),
				logger.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// UpdateState records what a window reported about itself.
func (r *Registry) UpdateState(id string, msg protocol.Message) {
	c, ok := r.Get(id)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.URL != "" {
		c.url = msg.URL
	}
	if msg.Visible != nil {
		c.visible = *msg.Visible
	}
	if msg.Focused != nil {
		c.focused = *msg.Focused
		if c.focused {
			c.lastFocused = r.now()
		}
	}
}

// OpenWindow asks for a new window at target. The edge cannot spawn
// browser windows itself, so the launch is queued and handed to the next
// window that connects, as long as it arrives within the launch TTL.
func (r *Registry) OpenWindow(target string) {
	r.mu.Lock()
	r.launches = append(r.launches, pendingLaunch{url: target, expires: r.now().Add(r.launchTTL)})
	r.mu.Unlock()
	r.log.Info("queued window launch", logger.String("url", target))
}

// PendingLaunches returns the number of queued launches that have not
// expired.
func (r *Registry) PendingLaunches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLaunchesLocked(r.now())
	return len(r.launches)
}

func (r *Registry) popLaunchLocked(now time.Time) (string, bool) {
	r.pruneLaunchesLocked(now)
	if len(r.launches) == 0 {
		return "", false
	}
	l := r.launches[0]
	r.launches = r.launches[1:]
	return l.url, true
}

func (r *Registry) pruneLaunchesLocked(now time.Time) {
	r.launches = slices.DeleteFunc(r.launches, func(l pendingLaunch) bool {
		return now.After(l.expires)
	})
}
