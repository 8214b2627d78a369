package events

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	"aggronation/pkg/kafka"
	"aggronation/pkg/logging"
	"aggronation/pkg/redis"
)

// RedisSink publishes events as JSON on a pub/sub channel.
type RedisSink struct {
	pubsub  *redis.TypedPubSub[Event]
	channel string
}

func NewRedisSink(client goredis.UniversalClient, channel string, logger logging.Logger) *RedisSink {
	return &RedisSink{pubsub: redis.NewTypedPubSub[Event](client, logger), channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, evt Event) error {
	_, err := s.pubsub.Publish(ctx, s.channel, evt)
	return err
}

// Publisher is the subset of kafka.Producer used by KafkaSink.
type Publisher interface {
	Publish(ctx context.Context, topic string, msgs ...kafka.Message) error
}

// KafkaSink produces events to a topic, keyed by source id so one source's
// events stay ordered within a partition.
type KafkaSink struct {
	producer Publisher
	topic    string
}

func NewKafkaSink(producer Publisher, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(ctx context.Context, evt Event) error {
	key := evt.SourceID
	if key == "" {
		key = evt.ID
	}
	return s.producer.Publish(ctx, s.topic, kafka.Message{
		Key:   key,
		Value: evt,
		Headers: map[string]string{
			"event_type":   evt.Type,
			"event_action": evt.Action,
		},
	})
}
