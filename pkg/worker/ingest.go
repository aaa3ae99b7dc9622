// Package worker holds the long-lived consumer loops: signal ingestion,
// pattern dispatch, and the degraded-mode buffer drain.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/commerceops/driftwatch/pkg/models"
)

// SignalSink persists incoming signals.
type SignalSink interface {
	Insert(ctx context.Context, sig *models.Signal) error
}

// PatternObserver feeds each signal into the sliding-window detector.
type PatternObserver interface {
	Observe(ctx context.Context, sig *models.Signal) ([]*models.Pattern, error)
}

// CriticalErrorReporter surfaces infrastructure failures to the safe-mode
// detector.
type CriticalErrorReporter interface {
	ReportCriticalError(errorType string)
}

// Ingest consumes normalized signals: persist, then observe. The bus layer
// marks offsets regardless, so a returned error only drops that message.
type Ingest struct {
	signals  SignalSink
	detector PatternObserver
	critical CriticalErrorReporter
}

// NewIngest creates the ingestion handler. critical may be nil.
func NewIngest(signals SignalSink, detector PatternObserver, critical CriticalErrorReporter) *Ingest {
	return &Ingest{signals: signals, detector: detector, critical: critical}
}

// Handle processes one signal message off the bus.
func (w *Ingest) Handle(ctx context.Context, _ string, value []byte) error {
	var sig models.Signal
	if err := json.Unmarshal(value, &sig); err != nil {
		return fmt.Errorf("decode signal message: %w", err)
	}
	if err := sig.Validate(); err != nil {
		return fmt.Errorf("invalid signal on bus: %w", err)
	}

	if err := w.signals.Insert(ctx, &sig); err != nil {
		if w.critical != nil {
			w.critical.ReportCriticalError("database_connection_loss")
		}
		return fmt.Errorf("persist signal %s: %w", sig.SignalID, err)
	}

	patterns, err := w.detector.Observe(ctx, &sig)
	if err != nil {
		// The signal is persisted; the periodic sweep will still find it.
		slog.Warn("Detector observe failed", "signal_id", sig.SignalID, "error", err)
		return nil
	}
	for _, p := range patterns {
		slog.Debug("Signal matched pattern",
			"signal_id", sig.SignalID, "pattern_id", p.PatternID, "frequency", p.Frequency)
	}
	return nil
}
