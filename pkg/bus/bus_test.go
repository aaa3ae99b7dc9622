package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commerceops/driftwatch/pkg/models"
)

func newMockPublisher(t *testing.T) (*KafkaPublisher, *mocks.SyncProducer) {
	t.Helper()
	producer := mocks.NewSyncProducer(t, newSaramaConfig())
	return &KafkaPublisher{
		producer:      producer,
		signalsTopic:  "signals.normalized",
		patternsTopic: "patterns.detected",
	}, producer
}

func TestPublishSignal(t *testing.T) {
	pub, producer := newMockPublisher(t)
	sig := &models.Signal{
		SignalID:   "sig-1",
		Source:     models.SourceAPIFailure,
		MerchantID: "merchant-a",
		Severity:   models.SeverityHigh,
	}

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != "merchant-a" {
			return errors.New("expected merchant id as partition key")
		}
		value, _ := msg.Value.Encode()
		var got models.Signal
		if err := json.Unmarshal(value, &got); err != nil {
			return err
		}
		if got.SignalID != "sig-1" {
			return errors.New("payload mismatch")
		}
		return nil
	})

	require.NoError(t, pub.PublishSignal(context.Background(), sig))
}

func TestPublishPatternKeying(t *testing.T) {
	t.Run("single merchant keys by merchant", func(t *testing.T) {
		pub, producer := newMockPublisher(t)
		producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			key, _ := msg.Key.Encode()
			if string(key) != "merchant-a" {
				return errors.New("wrong key")
			}
			return nil
		})
		err := pub.PublishPattern(context.Background(), &models.Pattern{
			PatternID:   "pat-1",
			MerchantIDs: []string{"merchant-a"},
		})
		require.NoError(t, err)
	})

	t.Run("cross merchant keys by pattern id", func(t *testing.T) {
		pub, producer := newMockPublisher(t)
		producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			key, _ := msg.Key.Encode()
			if string(key) != "pat-2" {
				return errors.New("wrong key")
			}
			return nil
		})
		err := pub.PublishPattern(context.Background(), &models.Pattern{
			PatternID:   "pat-2",
			MerchantIDs: []string{"merchant-a", "merchant-b"},
		})
		require.NoError(t, err)
	})
}

func TestPublishFailureSurfacesError(t *testing.T) {
	pub, producer := newMockPublisher(t)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := pub.PublishSignal(context.Background(), &models.Signal{
		SignalID:   "sig-1",
		MerchantID: "merchant-a",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}
