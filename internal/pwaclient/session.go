// Package pwaclient is the page side of the edge protocol: deferred
// registration, update prompts and notification routing for one page
// session.
package pwaclient

import (
	"context"
	"sync"
	"time"

	"github.com/heavystatus/newsroom-edge/internal/logger"
	"github.com/heavystatus/newsroom-edge/internal/protocol"
)

// DefaultRegisterDelay keeps registration out of the first paint.
const DefaultRegisterDelay = 800 * time.Millisecond

// Registrar connects the page to the edge.
type Registrar func(ctx context.Context) (Transport, error)

// WSRegistrar registers over the client websocket at endpoint.
func WSRegistrar(endpoint, pageURL string) Registrar {
	return func(ctx context.Context) (Transport, error) {
		return Dial(ctx, endpoint, pageURL, nil)
	}
}

// Options configures a Session. Every callback is optional.
type Options struct {
	Register      Registrar
	RegisterDelay time.Duration
	// OnUpdate is called once per waiting version from the session
	// goroutine. It must not call Confirm directly, since the acknowledgment
	// Confirm waits for is read by that same goroutine.
	OnUpdate func(version string)
	// Reload reloads the page after an update was confirmed.
	Reload         func()
	OnNavigate     func(url string)
	OnFocus        func()
	OnNotification func(n protocol.Notification)
	OnActivated    func(version string)
	Log            logger.Logger
}

// Session is the PWA state of one page session. It is created once at the
// page root and handed to whatever needs it.
type Session struct {
	opts     Options
	notifier *UpdateNotifier
	log      logger.Logger

	mu        sync.Mutex
	transport Transport
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSession creates a session. Nothing happens until Start.
func NewSession(opts Options) *Session {
	if opts.RegisterDelay <= 0 {
		opts.RegisterDelay = DefaultRegisterDelay
	}
	log := opts.Log
	if log == nil {
		log = logger.NewNop()
	}
	return &Session{
		opts:     opts,
		notifier: newUpdateNotifier(opts.OnUpdate, opts.Reload),
		log:      log.Module("pwaclient"),
	}
}

// Notifier returns the session's update notifier.
func (s *Session) Notifier() *UpdateNotifier { return s.notifier }

// Registered reports whether the page is connected to the edge.
func (s *Session) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport != nil
}

// Start registers after the configured delay and then follows messages
// from the edge until ctx ends or Close is called. A failed registration is
// logged and otherwise ignored: the page keeps working without the edge.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.run(ctx)
	}()
}

// Close stops the session and waits for it to wind down.
func (s *Session) Close() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Send posts a message to the edge. It is a no-op before registration.
func (s *Session) Send(ctx context.Context, msg protocol.Message) error {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Send(ctx, msg)
}

func (s *Session) run(ctx context.Context) {
	timer := time.NewTimer(s.opts.RegisterDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if s.opts.Register == nil {
		return
	}
	t, err := s.opts.Register(ctx)
	if err != nil {
		s.log.Debug("registration failed, continuing without the edge", logger.Error(err))
		return
	}

	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
	s.notifier.attach(t)
	defer func() {
		_ = t.Close()
		s.mu.Lock()
		s.transport = nil
		s.mu.Unlock()
		s.notifier.attach(nil)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-t.Messages():
			if !ok {
				s.log.Debug("edge connection closed")
				return
			}
			s.handle(msg)
		}
	}
}

func (s *Session) handle(msg protocol.Message) {
	s.notifier.Observe(msg)
	switch msg.Type {
	case protocol.TypeActivated:
		if s.opts.OnActivated != nil {
			s.opts.OnActivated(msg.Version)
		}
	case protocol.TypeNavigate:
		if s.opts.OnNavigate != nil {
			s.opts.OnNavigate(msg.URL)
		}
	case protocol.TypeFocus:
		if s.opts.OnFocus != nil {
			s.opts.OnFocus()
		}
	case protocol.TypeNotification:
		if s.opts.OnNotification != nil && msg.Notification != nil {
			s.opts.OnNotification(*msg.Notification)
		}
	}
}
