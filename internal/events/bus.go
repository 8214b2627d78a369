package events

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"aggronation/pkg/logging"
)

const DefaultCapacity = 100

// Handler receives events synchronously on the emitting goroutine. Handlers
// must not block; long work belongs on a goroutine or a queue.
type Handler func(Event)

// Subscription identifies one registered handler.
type Subscription struct {
	id        uint64
	eventType string
}

func (s Subscription) EventType() string { return s.eventType }

type BusConfig struct {
	Capacity int
	Logger   logging.Logger
	Now      func() time.Time
	// OnEmit and OnSubscribers feed metrics; both optional.
	OnEmit        func(Event)
	OnSubscribers func(count int)
}

// Bus is an in-process publish/subscribe broadcaster with a bounded history.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]subscriber
	nextID uint64

	history *Ring[Event]
	logger  logging.Logger
	now     func() time.Time

	onEmit        func(Event)
	onSubscribers func(int)
}

type subscriber struct {
	id        uint64
	eventType string
	handler   Handler
}

func NewBus(cfg BusConfig) *Bus {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDiscardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Bus{
		subs:          make(map[uint64]subscriber),
		history:       NewRing[Event](cfg.Capacity),
		logger:        cfg.Logger,
		now:           cfg.Now,
		onEmit:        cfg.OnEmit,
		onSubscribers: cfg.OnSubscribers,
	}
}

// Subscribe registers handler for eventType, or for every type with TypeAll.
func (b *Bus) Subscribe(eventType string, handler Handler) Subscription {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = subscriber{id: id, eventType: eventType, handler: handler}
	count := len(b.subs)
	b.mu.Unlock()

	b.reportSubscribers(count)
	return Subscription{id: id, eventType: eventType}
}

// Unsubscribe removes the handler and reports whether it was registered.
func (b *Bus) Unsubscribe(sub Subscription) bool {
	b.mu.Lock()
	_, ok := b.subs[sub.id]
	delete(b.subs, sub.id)
	count := len(b.subs)
	b.mu.Unlock()

	if ok {
		b.reportSubscribers(count)
	}
	return ok
}

// SubscriberCount returns the number of registered handlers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Emit stamps evt with an id and timestamp when missing, appends it to the
// history and delivers it to every handler subscribed before the call. A
// panicking handler is logged and does not affect the others.
func (b *Bus) Emit(evt Event) Event {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now().UTC()
	}

	b.history.Push(evt)

	b.mu.RLock()
	targets := make([]subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.eventType == evt.Type || s.eventType == TypeAll {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })

	for _, s := range targets {
		b.deliver(s, evt)
	}

	if b.onEmit != nil {
		b.onEmit(evt)
	}
	return evt
}

// RecentEvents returns up to limit most recent events in emission order.
// A non-positive limit returns the whole buffer.
func (b *Bus) RecentEvents(limit int) []Event {
	return b.history.Last(limit)
}

// Capacity is the history size.
func (b *Bus) Capacity() int { return b.history.Cap() }

func (b *Bus) deliver(s subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logging.Fields{
				"subscription": s.id,
				"event_type":   evt.Type,
				"event_action": evt.Action,
				"panic":        fmt.Sprint(r),
			}).Error("Event subscriber panicked")
		}
	}()
	s.handler(evt)
}

func (b *Bus) reportSubscribers(count int) {
	if b.onSubscribers != nil {
		b.onSubscribers(count)
	}
}
