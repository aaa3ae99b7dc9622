package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commerceops/driftwatch/pkg/degradation"
	"github.com/commerceops/driftwatch/pkg/models"
)

type fakePublisher struct {
	signals []*models.Signal
	err     error
}

func (f *fakePublisher) PublishSignal(_ context.Context, sig *models.Signal) error {
	if f.err != nil {
		return f.err
	}
	f.signals = append(f.signals, sig)
	return nil
}

type fakeBuffer struct {
	signals []*models.Signal
	err     error
}

func (f *fakeBuffer) BufferSignal(_ context.Context, sig *models.Signal) error {
	if f.err != nil {
		return f.err
	}
	f.signals = append(f.signals, sig)
	return nil
}

func zendeskPayload() map[string]any {
	return map[string]any{
		"id":          float64(42),
		"priority":    "urgent",
		"subject":     "Checkout broken after migration",
		"description": "Customers cannot pay since the platform switch",
		"merchant_id": "merchant-a",
	}
}

func TestSubmit(t *testing.T) {
	t.Run("normalizes and publishes", func(t *testing.T) {
		pub := &fakePublisher{}
		buf := &fakeBuffer{}
		svc := NewIngestion(pub, buf, degradation.NewTracker())

		sig, buffered, err := svc.Submit(context.Background(), "zendesk", zendeskPayload())
		require.NoError(t, err)
		assert.False(t, buffered)
		require.Len(t, pub.signals, 1)
		assert.Empty(t, buf.signals)

		assert.Equal(t, models.SourceSupportTicket, sig.Source)
		assert.Equal(t, models.SeverityCritical, sig.Severity)
		assert.Equal(t, "merchant-a", sig.MerchantID)
		assert.NotEmpty(t, sig.SignalID)
	})

	t.Run("unsupported source is a validation error", func(t *testing.T) {
		svc := NewIngestion(&fakePublisher{}, &fakeBuffer{}, degradation.NewTracker())

		_, _, err := svc.Submit(context.Background(), "pagerduty", zendeskPayload())
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "source", verr.Field)
	})

	t.Run("publish failure buffers and marks the bus degraded", func(t *testing.T) {
		pub := &fakePublisher{err: fmt.Errorf("broker unreachable")}
		buf := &fakeBuffer{}
		tracker := degradation.NewTracker()
		svc := NewIngestion(pub, buf, tracker)

		sig, buffered, err := svc.Submit(context.Background(), "zendesk", zendeskPayload())
		require.NoError(t, err)
		assert.True(t, buffered)
		require.Len(t, buf.signals, 1)
		assert.Equal(t, sig.SignalID, buf.signals[0].SignalID)
		assert.True(t, tracker.Degraded(degradation.DepBus))
	})

	t.Run("degraded bus skips the publisher entirely", func(t *testing.T) {
		pub := &fakePublisher{}
		buf := &fakeBuffer{}
		tracker := degradation.NewTracker()
		tracker.SetDegraded(degradation.DepBus, true)
		svc := NewIngestion(pub, buf, tracker)

		_, buffered, err := svc.Submit(context.Background(), "zendesk", zendeskPayload())
		require.NoError(t, err)
		assert.True(t, buffered)
		assert.Empty(t, pub.signals)
		require.Len(t, buf.signals, 1)
	})

	t.Run("publish and buffer both failing surfaces the error", func(t *testing.T) {
		pub := &fakePublisher{err: fmt.Errorf("broker unreachable")}
		buf := &fakeBuffer{err: fmt.Errorf("redis unreachable")}
		svc := NewIngestion(pub, buf, degradation.NewTracker())

		_, _, err := svc.Submit(context.Background(), "zendesk", zendeskPayload())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis unreachable")
	})
}

func TestSubmitCanonical(t *testing.T) {
	t.Run("assigns identity and publishes", func(t *testing.T) {
		pub := &fakePublisher{}
		svc := NewIngestion(pub, nil, nil)

		sig := &models.Signal{
			Source:       models.SourceAPIFailure,
			Severity:     models.SeverityHigh,
			ErrorCode:    "500",
			ErrorMessage: "upstream exploded",
		}
		buffered, err := svc.SubmitCanonical(context.Background(), sig)
		require.NoError(t, err)
		assert.False(t, buffered)
		assert.NotEmpty(t, sig.SignalID)
		assert.False(t, sig.Timestamp.IsZero())
		assert.Equal(t, models.UnknownMerchant, sig.MerchantID)
		require.Len(t, pub.signals, 1)
	})

	t.Run("invalid enum is a validation error", func(t *testing.T) {
		svc := NewIngestion(&fakePublisher{}, nil, nil)

		sig := &models.Signal{Source: "carrier_pigeon", Severity: models.SeverityLow}
		_, err := svc.SubmitCanonical(context.Background(), sig)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})
}
