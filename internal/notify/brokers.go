package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"

	"caseline/internal/domain"
)

const defaultRedisChannel = "caseline.notifications"

// RedisSink publishes notifications on a pub/sub channel.
type RedisSink struct {
	Client  *redis.Client
	Channel string
}

// NewRedisSink parses a redis:// URL. The connection is established lazily.
func NewRedisSink(url, channel string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if channel == "" {
		channel = defaultRedisChannel
	}
	return &RedisSink{Client: redis.NewClient(opts), Channel: channel}, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, n domain.Notification) error {
	data, err := encode(n)
	if err != nil {
		return err
	}
	return s.Client.Publish(ctx, s.Channel, data).Err()
}

func (s *RedisSink) Close() error {
	return s.Client.Close()
}

// KafkaSink produces one record per notification keyed by record id, so all
// transitions of a record land on the same partition in commit order.
type KafkaSink struct {
	Client *kgo.Client
	Topic  string
}

func NewKafkaSink(brokers []string, topic string, deliveryTimeout time.Duration) (*KafkaSink, error) {
	if deliveryTimeout <= 0 {
		deliveryTimeout = defaultTimeout
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RecordDeliveryTimeout(deliveryTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &KafkaSink{Client: client, Topic: topic}, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Deliver(ctx context.Context, n domain.Notification) error {
	data, err := encode(n)
	if err != nil {
		return err
	}
	rec := &kgo.Record{
		Topic: s.Topic,
		Key:   []byte(n.RecordID),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(EventType(n))},
		},
	}
	return s.Client.ProduceSync(ctx, rec).FirstErr()
}

func (s *KafkaSink) Close() error {
	s.Client.Close()
	return nil
}
