package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"aggronation/pkg/kafka"
)

type recordingSink struct {
	mu     sync.Mutex
	name   string
	events []Event
	err    error
	block  chan struct{}
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(ctx context.Context, evt Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestForwarderRelaysToAllSinks(t *testing.T) {
	bus := NewBus(BusConfig{})
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b", err: errors.New("unavailable")}

	var sendErrors int
	var mu sync.Mutex
	f := NewForwarder(ForwarderConfig{Bus: bus, Sinks: []Sink{a, b}, OnSendError: func(string, error) {
		mu.Lock()
		sendErrors++
		mu.Unlock()
	}})
	f.Start()
	f.Start()

	bus.Emit(Event{Type: TypeContent})
	bus.Emit(Event{Type: TypeHealth})

	waitFor(t, func() bool { return a.count() == 2 && b.count() == 2 })
	f.Stop()
	f.Stop()

	mu.Lock()
	defer mu.Unlock()
	if sendErrors != 2 {
		t.Fatalf("expected 2 send errors, got %d", sendErrors)
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("forwarder must unsubscribe on stop")
	}
}

func TestForwarderDropsWhenQueueFull(t *testing.T) {
	bus := NewBus(BusConfig{})
	sink := &recordingSink{name: "slow", block: make(chan struct{})}

	var drops int
	f := NewForwarder(ForwarderConfig{Bus: bus, Sinks: []Sink{sink}, QueueSize: 1, OnDrop: func(Event) { drops++ }})
	f.Start()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Emit(Event{Type: TypeContent})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("emit blocked on a slow sink")
	}
	if drops == 0 {
		t.Fatalf("expected drops with a full queue")
	}

	close(sink.block)
	f.Stop()
}

func TestForwarderWithoutSinksIsInert(t *testing.T) {
	bus := NewBus(BusConfig{})
	f := NewForwarder(ForwarderConfig{Bus: bus})
	f.Start()
	if bus.SubscriberCount() != 0 {
		t.Fatalf("forwarder without sinks must not subscribe")
	}
	f.Stop()
}

func TestRedisSinkPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "aggro:events")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sink := NewRedisSink(client, "aggro:events", nil)
	if err := sink.Send(ctx, Event{ID: "e1", Type: TypeContent, Action: ActionCreated}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var evt Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if evt.ID != "e1" || evt.Action != ActionCreated {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no message received")
	}
}

type fakePublisher struct {
	topic string
	msgs  []kafka.Message
}

func (p *fakePublisher) Publish(_ context.Context, topic string, msgs ...kafka.Message) error {
	p.topic = topic
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func TestKafkaSinkKeysBySource(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewKafkaSink(pub, "aggro.events")

	_ = sink.Send(context.Background(), Event{ID: "e1", SourceID: "src-9", Type: TypeHealth, Action: ActionUpdated})
	_ = sink.Send(context.Background(), Event{ID: "e2", Type: TypeIngestion})

	if pub.topic != "aggro.events" || len(pub.msgs) != 2 {
		t.Fatalf("unexpected publish %q %d", pub.topic, len(pub.msgs))
	}
	if pub.msgs[0].Key != "src-9" || pub.msgs[1].Key != "e2" {
		t.Fatalf("unexpected keys %q %q", pub.msgs[0].Key, pub.msgs[1].Key)
	}
	if pub.msgs[0].Headers["event_type"] != TypeHealth || pub.msgs[0].Headers["event_action"] != ActionUpdated {
		t.Fatalf("unexpected headers %+v", pub.msgs[0].Headers)
	}
}
