package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Listener receives published events. Listeners run synchronously on the
// publisher's goroutine; a panicking listener is logged and skipped without
// affecting the others.
type Listener func(Event)

type subscription struct {
	id int
	fn Listener
}

// Bus is an in-process typed publish/subscribe hub with a bounded
// most-recent history ring per event kind.
type Bus struct {
	mu           sync.Mutex
	logger       *zap.Logger
	historyLimit int
	nextID       int
	listeners    map[Kind][]subscription
	wildcard     []subscription
	history      map[Kind][]Event
}

// NewBus creates a Bus keeping up to historyLimit events per kind.
func NewBus(historyLimit int, logger *zap.Logger) *Bus {
	if historyLimit <= 0 {
		historyLimit = 25
	}
	return &Bus{
		logger:       logger,
		historyLimit: historyLimit,
		listeners:    make(map[Kind][]subscription),
		history:      make(map[Kind][]Event),
	}
}

// Subscribe registers a listener for one event kind and returns its
// unsubscribe function. Previously published events are not replayed.
func (b *Bus) Subscribe(kind Kind, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners[kind] = append(b.listeners[kind], subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.listeners[kind] = removeSubscription(b.listeners[kind], id)
	}
}

// SubscribeAll registers a wildcard listener receiving every event kind.
func (b *Bus) SubscribeAll(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.wildcard = append(b.wildcard, subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.wildcard = removeSubscription(b.wildcard, id)
	}
}

// Publish delivers an event synchronously to the kind's listeners, then to
// wildcard listeners, each in registration order.
func (b *Bus) Publish(kind Kind, payload interface{}, source string) {
	event := Event{
		Kind:      kind,
		Payload:   payload,
		Source:    source,
		Timestamp: time.Now(),
	}

	b.mu.Lock()
	ring := append(b.history[kind], event)
	if len(ring) > b.historyLimit {
		ring = ring[len(ring)-b.historyLimit:]
	}
	b.history[kind] = ring

	targets := make([]subscription, 0, len(b.listeners[kind])+len(b.wildcard))
	targets = append(targets, b.listeners[kind]...)
	targets = append(targets, b.wildcard...)
	b.mu.Unlock()

	for _, sub := range targets {
		b.invoke(sub.fn, event)
	}
}

// History returns the retained events of a kind, oldest first.
func (b *Bus) History(kind Kind) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ring := b.history[kind]
	out := make([]Event, len(ring))
	copy(out, ring)
	return out
}

func (b *Bus) invoke(fn Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event listener panicked",
				zap.String("kind", string(event.Kind)),
				zap.Any("panic", r))
		}
	}()
	fn(event)
}

func removeSubscription(subs []subscription, id int) []subscription {
	for i, sub := range subs {
		if sub.id == id {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}
