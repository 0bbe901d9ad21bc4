package pwaclient

import (
	"context"
	"errors"
	"sync"

	"github.com/heavystatus/newsroom-edge/internal/protocol"
)

// ErrNoUpdate is returned by Confirm when no update is on offer.
var ErrNoUpdate = errors.New("no waiting version to activate")

// ErrNotRegistered is returned by Confirm before the session registered.
var ErrNotRegistered = errors.New("page is not registered with the edge")

// UpdateNotifier watches registration state and offers an update when a new
// version waits behind an active one. Each waiting version is offered once.
type UpdateNotifier struct {
	prompt func(version string)
	reload func()

	mu         sync.Mutex
	transport  Transport
	controller string
	offered    string
	seen       map[string]struct{}
	acks       chan string
}

func newUpdateNotifier(prompt func(string), reload func()) *UpdateNotifier {
	return &UpdateNotifier{
		prompt: prompt,
		reload: reload,
		seen:   make(map[string]struct{}),
	}
}

func (n *UpdateNotifier) attach(t Transport) {
	n.mu.Lock()
	n.transport = t
	n.mu.Unlock()
}

// Controller returns the version serving this page, or "".
func (n *UpdateNotifier) Controller() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.controller
}

// Offered returns the waiting version currently offered, or "".
func (n *UpdateNotifier) Offered() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.offered
}

// Observe consumes a message from the edge.
func (n *UpdateNotifier) Observe(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeRegistration:
		if msg.Registration != nil {
			n.observeState(*msg.Registration)
		}
	case protocol.TypeActivated:
		n.mu.Lock()
		n.controller = msg.Version
		if n.offered == msg.Version {
			n.offered = ""
		}
		acks := n.acks
		n.mu.Unlock()
		if acks != nil {
			select {
			case acks <- msg.Version:
			default:
			}
		}
	}
}

func (n *UpdateNotifier) observeState(s protocol.RegistrationState) {
	n.mu.Lock()
	if s.Active != "" {
		n.controller = s.Active
	}
	if s.Waiting == "" || n.controller == "" {
		n.mu.Unlock()
		return
	}
	if _, done := n.seen[s.Waiting]; done {
		n.mu.Unlock()
		return
	}
	n.seen[s.Waiting] = struct{}{}
	n.offered = s.Waiting
	n.mu.Unlock()

	if n.prompt != nil {
		n.prompt(s.Waiting)
	}
}

// Confirm asks the edge to activate the offered version, waits for the
// activation to be acknowledged and then reloads the page. The reload never
// happens unless the request was sent and acknowledged.
func (n *UpdateNotifier) Confirm(ctx context.Context) error {
	n.mu.Lock()
	t := n.transport
	waiting := n.offered
	if t == nil {
		n.mu.Unlock()
		return ErrNotRegistered
	}
	if waiting == "" {
		n.mu.Unlock()
		return ErrNoUpdate
	}
	acks := make(chan string, 1)
	n.acks = acks
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		if n.acks == acks {
			n.acks = nil
		}
		n.mu.Unlock()
	}()

	if err := t.Send(ctx, protocol.SkipWaiting()); err != nil {
		return err
	}

	for {
		select {
		case v := <-acks:
			if v != waiting {
				continue
			}
			if n.reload != nil {
				n.reload()
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
