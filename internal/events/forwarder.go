package events

import (
	"context"
	"sync"
	"time"

	"aggronation/pkg/logging"
)

// Sink relays events to an external system.
type Sink interface {
	Name() string
	Send(ctx context.Context, evt Event) error
}

type ForwarderConfig struct {
	Bus         *Bus
	Sinks       []Sink
	Logger      logging.Logger
	QueueSize   int
	SendTimeout time.Duration
	// OnDrop and OnSendError feed metrics; both optional.
	OnDrop      func(Event)
	OnSendError func(sink string, err error)
}

// Forwarder subscribes to every event type and relays events to its sinks on
// a background goroutine through a bounded queue. A full queue drops the
// event rather than blocking the emitter.
type Forwarder struct {
	bus         *Bus
	sinks       []Sink
	logger      logging.Logger
	queue       chan Event
	sendTimeout time.Duration
	onDrop      func(Event)
	onSendError func(string, error)

	mu      sync.Mutex
	sub     Subscription
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

func NewForwarder(cfg ForwarderConfig) *Forwarder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDiscardLogger()
	}
	return &Forwarder{
		bus:         cfg.Bus,
		sinks:       cfg.Sinks,
		logger:      cfg.Logger,
		queue:       make(chan Event, cfg.QueueSize),
		sendTimeout: cfg.SendTimeout,
		onDrop:      cfg.OnDrop,
		onSendError: cfg.OnSendError,
	}
}

// Start subscribes to the bus and launches the relay loop. A forwarder with
// no sinks does nothing.
func (f *Forwarder) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running || len(f.sinks) == 0 {
		return
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.sub = f.bus.Subscribe(TypeAll, f.enqueue)

	f.wg.Add(1)
	go f.run(f.stopCh)

	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.Name())
	}
	f.logger.WithField("sinks", names).Info("Event forwarder started")
}

// Stop unsubscribes, drains what is already queued and waits for the loop.
func (f *Forwarder) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	f.bus.Unsubscribe(f.sub)
	close(f.stopCh)
	f.mu.Unlock()

	f.wg.Wait()
	f.logger.Info("Event forwarder stopped")
}

func (f *Forwarder) enqueue(evt Event) {
	select {
	case f.queue <- evt:
	default:
		f.logger.WithFields(logging.Fields{
			"event_id":   evt.ID,
			"event_type": evt.Type,
		}).Warn("Event relay queue full, dropping event")
		if f.onDrop != nil {
			f.onDrop(evt)
		}
	}
}

func (f *Forwarder) run(stopCh <-chan struct{}) {
	defer f.wg.Done()
	for {
		select {
		case evt := <-f.queue:
			f.send(evt)
		case <-stopCh:
			for {
				select {
				case evt := <-f.queue:
					f.send(evt)
				default:
					return
				}
			}
		}
	}
}

func (f *Forwarder) send(evt Event) {
	for _, sink := range f.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), f.sendTimeout)
		err := sink.Send(ctx, evt)
		cancel()
		if err != nil {
			f.logger.WithError(err).WithFields(logging.Fields{
				"sink":     sink.Name(),
				"event_id": evt.ID,
			}).Warn("Failed to relay event")
			if f.onSendError != nil {
				f.onSendError(sink.Name(), err)
			}
		}
	}
}
