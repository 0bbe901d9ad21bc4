package pwaclient

import (
	"context"
	"sync"

	"github.com/heavystatus/newsroom-edge/internal/protocol"
)

// fakeTransport records sends in a shared event log and lets the test feed
// messages from the edge.
type fakeTransport struct {
	mu      sync.Mutex
	log     *syncLog
	sent    []protocol.Message
	msgs    chan protocol.Message
	onSend  func(protocol.Message)
	closed  bool
	sendErr error
}

func newFakeTransport(log *syncLog) *fakeTransport {
	return &fakeTransport{log: log, msgs: make(chan protocol.Message, 16)}
}

func (f *fakeTransport) Send(_ context.Context, msg protocol.Message) error {
	f.mu.Lock()
	if f.sendErr != nil {
		f.mu.Unlock()
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	if f.log != nil {
		f.log.add("send " + msg.Type)
	}
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return nil
}

func (f *fakeTransport) Messages() <-chan protocol.Message { return f.msgs }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Type)
	}
	return out
}

// syncLog is an event log shared between goroutines.
type syncLog struct {
	mu     sync.Mutex
	events []string
}

func (l *syncLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *syncLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func registration(active, waiting string) protocol.Message {
	return protocol.Registration(protocol.RegistrationState{Active: active, Waiting: waiting})
}
