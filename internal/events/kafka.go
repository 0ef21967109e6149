package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Producer is the subset of *kgo.Client the forwarder needs.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// KafkaForwarder mirrors dispatched events onto a Kafka topic.
type KafkaForwarder struct {
	producer Producer
	topic    string
	logger   *zap.Logger
}

// NewKafkaClient builds a producer client for the given brokers.
func NewKafkaClient(brokers []string, topic string) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}
	return client, nil
}

// NewKafkaForwarder creates the forwarder.
func NewKafkaForwarder(producer Producer, topic string, logger *zap.Logger) *KafkaForwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaForwarder{
		producer: producer,
		topic:    topic,
		logger:   logger.With(zap.String("component", "kafka_forwarder")),
	}
}

// RegisterHandlers subscribes the forwarder to every event type.
func (f *KafkaForwarder) RegisterHandlers(d Dispatcher) {
	if d == nil || f.producer == nil {
		return
	}
	SubscribeAll(d, f.Forward)
}

// Forward produces the event asynchronously. Delivery failures are logged by
// the promise and never surface to the publisher.
func (f *KafkaForwarder) Forward(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	record := &kgo.Record{
		Topic: f.topic,
		Key:   []byte(event.Key()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	// Produce outlives the request that triggered the event.
	f.producer.Produce(context.WithoutCancel(ctx), record, func(r *kgo.Record, err error) {
		if err != nil {
			f.logger.Warn("event produce failed",
				zap.String("event_type", string(event.Type)),
				zap.String("key", string(r.Key)),
				zap.Error(err))
		}
	})
	return nil
}
