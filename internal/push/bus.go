package push

import (
	"context"
	"sync"
	"time"

	"github.com/heavystatus/newsroom-edge/internal/errors"
	"github.com/heavystatus/newsroom-edge/internal/logger"
	"github.com/heavystatus/newsroom-edge/internal/observability/metrics"
)

// Sources a push event can arrive from.
const (
	SourceMQTT = "mqtt"
	SourceHTTP = "http"
)

// ErrBusStopped is returned by PublishWait once the bus has stopped.
var ErrBusStopped = errors.NewStd("push bus stopped")

// Event is a raw push as received from a source.
type Event struct {
	Source     string
	Payload    []byte
	ReceivedAt time.Time
}

// EventHandler processes push events.
type EventHandler func(ctx context.Context, event *Event)

const (
	// busBufferSize is the capacity of the async event channel.
	busBufferSize = 256
)

// Bus is an async queue between push sources and the bridge. Publish never
// blocks and refuses events when full; PublishWait waits for room. A single
// goroutine delivers events to handlers in order.
type Bus struct {
	handlers []EventHandler
	mu       sync.RWMutex
	eventCh  chan *Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	ctx     context.Context
	cancel  context.CancelFunc
	metrics *metrics.Metrics
	log     logger.Logger
}

// NewBus creates a bus and starts its worker.
func NewBus(m *metrics.Metrics, log logger.Logger) *Bus {
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		eventCh: make(chan *Event, busBufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		metrics: m,
		log:     log.Module("push.bus"),
	}
	go b.processLoop()
	return b
}

// Subscribe registers a handler.
func (b *Bus) Subscribe(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues an event. It reports false when the event was dropped
// because the bus is stopped or full.
func (b *Bus) Publish(event *Event) bool {
	select {
	case <-b.stopCh:
		return false
	default:
	}

	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}

	select {
	case b.eventCh <- event:
		b.metrics.RecordPushEvent("received")
		return true
	default:
		b.metrics.RecordPushEvent("dropped")
		b.log.Warn("push event dropped, bus full", logger.String("source", event.Source))
		return false
	}
}

// PublishWait enqueues an event, waiting while the bus is full. It returns
// ErrBusStopped after Stop, or ctx.Err() when ctx ends first.
func (b *Bus) PublishWait(ctx context.Context, event *Event) error {
	select {
	case <-b.stopCh:
		return ErrBusStopped
	default:
	}

	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}

	select {
	case b.eventCh <- event:
		b.metrics.RecordPushEvent("received")
		return nil
	default:
	}

	b.log.Debug("push bus full, waiting", logger.String("source", event.Source))
	select {
	case b.eventCh <- event:
		b.metrics.RecordPushEvent("received")
		return nil
	case <-b.stopCh:
		b.metrics.RecordPushEvent("dropped")
		return ErrBusStopped
	case <-ctx.Done():
		b.metrics.RecordPushEvent("dropped")
		return ctx.Err()
	}
}

// Stop drains queued events and waits for the worker to exit. Safe to call
// multiple times.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
	b.cancel()
}

func (b *Bus) processLoop() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.dispatch(event)
		case <-b.stopCh:
			for {
				select {
				case event := <-b.eventCh:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(event *Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.safeCall(handler, event)
	}
}

// safeCall keeps the bus alive when a handler panics.
func (b *Bus) safeCall(handler EventHandler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("push handler panicked",
				logger.String("source", event.Source),
				logger.Any("panic", r))
		}
	}()
	handler(b.ctx, event)
}
