package event

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event bus closed")

// Subscription is an active subscription.
type Subscription interface {
	// Unsubscribe stops delivery. Events already buffered are dropped.
	Unsubscribe()
}

// BusConfig configures a LocalBus.
type BusConfig struct {
	// BufferSize is the channel buffer per subscription.
	// Default: 256
	BufferSize int

	// NonBlocking makes Publish drop events for full subscribers instead
	// of waiting.
	NonBlocking bool

	// OnDrop is called when an event is dropped in non-blocking mode.
	OnDrop func(evt Event, subscriberID string)

	// OnError is called when a handler returns an error.
	OnError func(evt Event, subscriberID string, err error)
}

const defaultBufferSize = 256

// LocalBus is an in-memory Publisher with fan-out to subscribers.
type LocalBus struct {
	config BusConfig

	mu   sync.RWMutex
	subs map[string]*subscription

	nextID  atomic.Int64
	closed  atomic.Bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

var _ Publisher = (*LocalBus)(nil)

// NewBus creates a LocalBus.
func NewBus(config BusConfig) *LocalBus {
	if config.BufferSize <= 0 {
		config.BufferSize = defaultBufferSize
	}
	return &LocalBus{
		config:  config,
		subs:    make(map[string]*subscription),
		closeCh: make(chan struct{}),
	}
}

type subscription struct {
	id      string
	types   []string // empty matches every type
	handler Handler
	events  chan Event
	done    chan struct{}
	once    sync.Once
	bus     *LocalBus
}

func (s *subscription) matches(eventType string) bool {
	return len(s.types) == 0 || slices.Contains(s.types, eventType)
}

// Publish delivers evt to every matching subscriber.
func (b *LocalBus) Publish(ctx context.Context, evt Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.matches(evt.Type) {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if b.config.NonBlocking {
			select {
			case sub.events <- evt:
			default:
				if b.config.OnDrop != nil {
					b.config.OnDrop(evt, sub.id)
				}
			}
			continue
		}
		select {
		case sub.events <- evt:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.closeCh:
			return ErrBusClosed
		}
	}
	return nil
}

// Subscribe delivers events of the given types to handler. No types means
// every type. Returns nil once the bus is closed.
func (b *LocalBus) Subscribe(types []string, handler Handler) Subscription {
	if b.closed.Load() {
		return nil
	}
	sub := &subscription{
		id:      "sub-" + strconv.FormatInt(b.nextID.Add(1), 10),
		types:   types,
		handler: handler,
		events:  make(chan Event, b.config.BufferSize),
		done:    make(chan struct{}),
		bus:     b,
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go sub.process()
	return sub
}

// SubscribeAll delivers every event to handler.
func (b *LocalBus) SubscribeAll(handler Handler) Subscription {
	return b.Subscribe(nil, handler)
}

// Len returns the number of live subscriptions.
func (b *LocalBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close stops the bus, delivers events already buffered and waits for the
// handlers to return.
func (b *LocalBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.closeCh)

	b.mu.Lock()
	for _, sub := range b.subs {
		sub.stop()
	}
	b.subs = map[string]*subscription{}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

func (s *subscription) process() {
	defer s.bus.wg.Done()
	for {
		select {
		case evt := <-s.events:
			s.handle(evt)
		case <-s.done:
			if s.bus.closed.Load() {
				s.drain()
			}
			return
		}
	}
}

// drain delivers whatever is still buffered.
func (s *subscription) drain() {
	for {
		select {
		case evt := <-s.events:
			s.handle(evt)
		default:
			return
		}
	}
}

func (s *subscription) handle(evt Event) {
	if err := s.handler.Handle(context.Background(), evt); err != nil && s.bus.config.OnError != nil {
		s.bus.config.OnError(evt, s.id, err)
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// Unsubscribe implements Subscription.
func (s *subscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	s.stop()
}

// LogHandler logs every event at debug level.
func LogHandler(logger *slog.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, evt Event) error {
		if logger == nil {
			return nil
		}
		logger.DebugContext(ctx, "session event",
			slog.String("event_id", evt.ID),
			slog.String("type", evt.Type),
			slog.String("session_id", evt.SessionID),
			slog.String("node_id", evt.NodeID),
		)
		return nil
	})
}

// Recorder is a Handler that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Handle implements Handler.
func (r *Recorder) Handle(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

// Events returns the events received so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the types of the events received so far, in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}
