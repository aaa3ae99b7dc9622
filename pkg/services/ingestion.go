package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/commerceops/driftwatch/pkg/degradation"
	"github.com/commerceops/driftwatch/pkg/models"
	"github.com/commerceops/driftwatch/pkg/normalizer"
)

// SignalPublisher puts a normalized signal on the event bus.
type SignalPublisher interface {
	PublishSignal(ctx context.Context, sig *models.Signal) error
}

// SignalBuffer absorbs signals while the bus is unavailable.
type SignalBuffer interface {
	BufferSignal(ctx context.Context, sig *models.Signal) error
}

// Degradations is the availability view the ingestion path consults before
// touching the bus.
type Degradations interface {
	SetDegraded(dep string, degraded bool)
	Degraded(dep string) bool
}

// Ingestion accepts raw source payloads and canonical signals at the HTTP
// boundary, normalizes them, and puts them on the bus. When the bus is
// degraded the signal lands in the Redis buffer instead; the drain worker
// replays it later.
type Ingestion struct {
	publisher SignalPublisher
	buffer    SignalBuffer
	degraded  Degradations
}

// NewIngestion creates the ingestion service. buffer and degraded may be nil
// in tests; without a buffer, publish failures are returned to the caller.
func NewIngestion(publisher SignalPublisher, buffer SignalBuffer, degraded Degradations) *Ingestion {
	return &Ingestion{publisher: publisher, buffer: buffer, degraded: degraded}
}

// Submit normalizes one raw source payload and publishes it. The returned
// buffered flag tells the caller the signal was accepted but parked in the
// degradation buffer rather than published.
func (s *Ingestion) Submit(ctx context.Context, source string, payload map[string]any) (sig *models.Signal, buffered bool, err error) {
	sig, err = normalizer.Normalize(source, payload)
	if errors.Is(err, normalizer.ErrUnsupportedSource) {
		return nil, false, &ValidationError{Field: "source", Message: fmt.Sprintf("unsupported source %q", source)}
	}
	if err != nil {
		return nil, false, &ValidationError{Field: "payload", Message: err.Error()}
	}

	buffered, err = s.dispatch(ctx, sig)
	if err != nil {
		return nil, false, err
	}
	return sig, buffered, nil
}

// SubmitCanonical accepts an already-normalized signal, assigns identity
// where missing, validates, and publishes.
func (s *Ingestion) SubmitCanonical(ctx context.Context, sig *models.Signal) (buffered bool, err error) {
	if sig.SignalID == "" {
		sig.SignalID = uuid.New().String()
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now().UTC()
	}
	if sig.MerchantID == "" {
		sig.MerchantID = models.UnknownMerchant
	}
	sig.ErrorMessage = models.TruncateErrorMessage(sig.ErrorMessage)
	if err := sig.Validate(); err != nil {
		return false, &ValidationError{Field: "signal", Message: err.Error()}
	}
	return s.dispatch(ctx, sig)
}

// dispatch routes the signal to the bus, falling back to the buffer when the
// bus is already degraded or the publish fails.
func (s *Ingestion) dispatch(ctx context.Context, sig *models.Signal) (buffered bool, err error) {
	if s.degraded != nil && s.degraded.Degraded(degradation.DepBus) {
		return true, s.park(ctx, sig)
	}

	if err := s.publisher.PublishSignal(ctx, sig); err != nil {
		slog.Warn("Signal publish failed, buffering",
			"signal_id", sig.SignalID, "merchant_id", sig.MerchantID, "error", err)
		if s.degraded != nil {
			s.degraded.SetDegraded(degradation.DepBus, true)
		}
		return true, s.park(ctx, sig)
	}
	return false, nil
}

func (s *Ingestion) park(ctx context.Context, sig *models.Signal) error {
	if s.buffer == nil {
		return fmt.Errorf("event bus unavailable and no buffer configured")
	}
	if err := s.buffer.BufferSignal(ctx, sig); err != nil {
		return fmt.Errorf("buffer signal %s: %w", sig.SignalID, err)
	}
	return nil
}
