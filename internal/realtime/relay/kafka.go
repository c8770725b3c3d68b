package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"lagerkoll/internal/realtime"
)

// Kafka relays events over a single-partition topic, which keeps one global
// order across instances. Every instance reads the whole partition from the
// end without a consumer group, so each one sees every event.
type Kafka struct {
	*base
	client *kgo.Client
	topic  string
}

// NewKafka connects to brokers and consumes topic from its current end.
func NewKafka(brokers []string, topic string, local Broadcaster, opts ...Option) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka relay requires at least one broker")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	k := &Kafka{
		base:   newBase("kafka", local, opts),
		client: client,
		topic:  topic,
	}
	k.start(func(ctx context.Context, payload []byte) error {
		return k.client.ProduceSync(ctx, &kgo.Record{Topic: k.topic, Value: payload}).FirstErr()
	})
	return k, nil
}

// EnsureTopic creates the relay topic with one partition if it is missing.
func (k *Kafka) EnsureTopic(ctx context.Context) error {
	adm := kadm.NewClient(k.client)
	resp, err := adm.CreateTopics(ctx, 1, -1, nil, k.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", k.topic, err)
	}
	for _, t := range resp {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", t.Topic, t.Err)
		}
	}
	return nil
}

// Publish broadcasts locally, then queues the event for other instances.
func (k *Kafka) Publish(ctx context.Context, ev realtime.Event) {
	k.local.Broadcast(ctx, ev)
	k.forward(ctx, ev)
}

// Run polls the topic and rebroadcasts remote events until ctx is cancelled
// or the client is closed.
func (k *Kafka) Run(ctx context.Context) error {
	k.logger.InfoContext(ctx, "relay consuming", "topic", k.topic)
	for {
		fetches := k.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			k.metrics.IncrementRelayError(k.name, "consume")
			k.logger.WarnContext(ctx, "relay fetch failed",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			k.deliver(ctx, rec.Value)
		})
	}
}

func (k *Kafka) Close() error {
	k.stop()
	k.client.Close()
	return nil
}
