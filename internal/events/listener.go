package events

import (
	"sync"
	"sync/atomic"
)

// Listener adapts a subscription to a buffered channel for streaming
// transports. Events that arrive while the buffer is full are dropped so the
// emitter never blocks on a slow remote client.
type Listener struct {
	C <-chan Event

	bus     *Bus
	sub     Subscription
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// Listen subscribes to eventType and returns a listener with the given buffer.
func (b *Bus) Listen(eventType string, buffer int) *Listener {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	l := &Listener{C: ch, bus: b, done: make(chan struct{})}
	l.sub = b.Subscribe(eventType, func(evt Event) {
		select {
		case <-l.done:
			return
		default:
		}
		select {
		case ch <- evt:
		default:
			l.dropped.Add(1)
		}
	})
	return l
}

// Close unsubscribes. C is left open; readers should stop on their own
// context or on Done.
func (l *Listener) Close() {
	l.once.Do(func() {
		close(l.done)
		l.bus.Unsubscribe(l.sub)
	})
}

// Done is closed by Close.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Dropped returns how many events were discarded because the buffer was full.
func (l *Listener) Dropped() uint64 { return l.dropped.Load() }
