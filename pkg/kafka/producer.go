package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"aggronation/pkg/logging"
)

const defaultProduceTimeout = 5 * time.Second

// Message is one JSON record destined for a topic.
type Message struct {
	Key     string
	Value   interface{}
	Headers map[string]string
}

// Producer publishes JSON records with franz-go.
type Producer struct {
	client   *kgo.Client
	logger   logging.Logger
	clientID string
}

// NewProducer creates a producer for the given seed brokers.
func NewProducer(brokers []string, clientID string, logger logging.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
		kgo.ProducerBatchMaxBytes(1000000),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Producer{client: client, logger: logger, clientID: clientID}, nil
}

func (p *Producer) Close() error {
	p.client.Close()
	return nil
}

// Ping satisfies monitoring.Pinger.
func (p *Producer) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka health check failed: %w", err)
	}
	return nil
}

// Publish marshals msgs to JSON and produces them synchronously to topic.
func (p *Producer) Publish(ctx context.Context, topic string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	records, err := BuildRecords(topic, msgs...)
	if err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultProduceTimeout)
		defer cancel()
	}

	results := p.client.ProduceSync(ctx, records...)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", topic, err)
	}
	return nil
}

// BuildRecords converts messages to kgo records.
func BuildRecords(topic string, msgs ...Message) ([]*kgo.Record, error) {
	records := make([]*kgo.Record, 0, len(msgs))
	for _, msg := range msgs {
		value, err := json.Marshal(msg.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message %s: %w", msg.Key, err)
		}
		record := &kgo.Record{
			Topic: topic,
			Key:   []byte(msg.Key),
			Value: value,
		}
		for k, v := range msg.Headers {
			record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
		records = append(records, record)
	}
	return records, nil
}
