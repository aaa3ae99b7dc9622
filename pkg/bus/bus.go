// Package bus is the Kafka event backbone: normalized signals and detected
// patterns flow between pipeline stages as JSON messages keyed by merchant,
// so per-merchant ordering is preserved across partitions.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/commerceops/driftwatch/pkg/config"
	"github.com/commerceops/driftwatch/pkg/models"
)

// newSaramaConfig returns the shared client configuration.
func newSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_0_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	return cfg
}

// Publisher emits pipeline events. Declared here so stages can take a fake
// in tests.
type Publisher interface {
	PublishSignal(ctx context.Context, sig *models.Signal) error
	PublishPattern(ctx context.Context, p *models.Pattern) error
	Close() error
}

// KafkaPublisher publishes via a synchronous producer; a returned error
// means the message is not on the bus and the caller must buffer it.
type KafkaPublisher struct {
	producer      sarama.SyncProducer
	signalsTopic  string
	patternsTopic string
}

// NewKafkaPublisher connects a sync producer to the configured brokers.
func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, newSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &KafkaPublisher{
		producer:      producer,
		signalsTopic:  cfg.SignalsTopic,
		patternsTopic: cfg.PatternsTopic,
	}, nil
}

func (p *KafkaPublisher) publish(topic, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// PublishSignal emits a normalized signal, keyed by merchant so one
// merchant's signals stay ordered.
func (p *KafkaPublisher) PublishSignal(_ context.Context, sig *models.Signal) error {
	return p.publish(p.signalsTopic, sig.MerchantID, sig)
}

// PublishPattern emits a detected or updated pattern. Single-merchant
// patterns key by that merchant; cross-merchant ones by pattern id.
func (p *KafkaPublisher) PublishPattern(_ context.Context, pat *models.Pattern) error {
	key := pat.PatternID
	if len(pat.MerchantIDs) == 1 {
		key = pat.MerchantIDs[0]
	}
	return p.publish(p.patternsTopic, key, pat)
}

// Close flushes and shuts down the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// Consumer runs a consumer group loop, dispatching each message to a
// handler. The loop exits when ctx is canceled.
type Consumer struct {
	group   sarama.ConsumerGroup
	topic   string
	handler func(ctx context.Context, key string, value []byte) error
}

// NewConsumer joins the named consumer group on the given topic.
func NewConsumer(cfg config.KafkaConfig, groupID, topic string, handler func(ctx context.Context, key string, value []byte) error) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, newSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("join consumer group %s: %w", groupID, err)
	}
	return &Consumer{group: group, topic: topic, handler: handler}, nil
}

// Run consumes until ctx is canceled. Rebalances restart the inner claim
// loop transparently.
func (c *Consumer) Run(ctx context.Context) error {
	h := &groupHandler{ctx: ctx, handler: c.handler}
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, h); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("consume %s: %w", c.topic, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	ctx     context.Context
	handler func(ctx context.Context, key string, value []byte) error
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim processes one partition claim. Handler errors are logged and
// the offset is still marked: the pipeline tolerates per-message loss but
// never wedges a partition.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handler(h.ctx, string(msg.Key), msg.Value); err != nil {
				slog.Error("Message handler failed",
					"topic", msg.Topic, "partition", msg.Partition,
					"offset", msg.Offset, "error", err)
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
