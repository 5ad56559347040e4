package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/HMasataka/hubrpc/internal/logging"
)

// Handler receives a published event
type Handler func(event *Event)

// Bus carries session and group lifecycle events to observers
type Bus interface {
	Publish(event *Event)
	PublishAsync(event *Event)
	Subscribe(eventType EventType, handler Handler) string
	SubscribeAll(handler Handler) string
	Unsubscribe(id string)
}

// anyEvent matches every event type
const anyEvent EventType = "*"

type subscription struct {
	id        string
	eventType EventType
	handler   Handler
}

func (s subscription) matches(t EventType) bool {
	return s.eventType == anyEvent || s.eventType == t
}

// Option configures an InMemoryBus
type Option func(*InMemoryBus)

// WithLogger sets the logger used to report handler panics
func WithLogger(logger *logging.Logger) Option {
	return func(b *InMemoryBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// InMemoryBus delivers events in subscription order.
// PublishAsync queues events for the goroutine started by Start; when the
// queue is full the event is counted as dropped.
type InMemoryBus struct {
	logger *logging.Logger

	mu   sync.RWMutex
	subs []subscription

	queue   chan *Event
	dropped atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

func NewInMemoryBus(bufferSize int, opts ...Option) *InMemoryBus {
	b := &InMemoryBus{
		logger: logging.Discard(),
		queue:  make(chan *Event, bufferSize),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers the event on the calling goroutine.
// Handlers run outside the subscription lock and may subscribe or unsubscribe.
func (b *InMemoryBus) Publish(event *Event) {
	if event == nil {
		return
	}

	b.mu.RLock()
	matched := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.matches(event.Type) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		b.deliver(s, event)
	}
}

func (b *InMemoryBus) deliver(s subscription, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"type", string(event.Type),
				"subscription", s.id,
				"panic", r,
			)
		}
	}()
	s.handler(event)
}

func (b *InMemoryBus) PublishAsync(event *Event) {
	if event == nil {
		return
	}
	select {
	case b.queue <- event:
	default:
		b.dropped.Add(1)
	}
}

func (b *InMemoryBus) Subscribe(eventType EventType, handler Handler) string {
	return b.add(eventType, handler)
}

func (b *InMemoryBus) SubscribeAll(handler Handler) string {
	return b.add(anyEvent, handler)
}

func (b *InMemoryBus) add(eventType EventType, handler Handler) string {
	s := subscription{id: generateID(), eventType: eventType, handler: handler}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s.id
}

func (b *InMemoryBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Start runs the async delivery loop until ctx is cancelled or Stop is called
func (b *InMemoryBus) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	go b.run(ctx)
}

// Stop ends the delivery loop after flushing what is already queued
func (b *InMemoryBus) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
}

// Dropped returns how many async events were discarded because the queue was full
func (b *InMemoryBus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *InMemoryBus) run(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			b.flush()
			return
		case event := <-b.queue:
			b.Publish(event)
		}
	}
}

func (b *InMemoryBus) flush() {
	for {
		select {
		case event := <-b.queue:
			b.Publish(event)
		default:
			return
		}
	}
}
