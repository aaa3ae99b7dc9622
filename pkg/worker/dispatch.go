package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/commerceops/driftwatch/pkg/models"
)

// PatternProcessor runs one full issue cycle for a detected pattern.
type PatternProcessor interface {
	ProcessPattern(ctx context.Context, pattern *models.Pattern) (*models.Explanation, error)
}

// Dispatch consumes detected patterns and hands each to the orchestrator.
// Patterns below the confidence floor are observed but not acted on yet; the
// detector republishes them as their confidence grows.
type Dispatch struct {
	processor     PatternProcessor
	minConfidence float64
	minFrequency  int
}

// NewDispatch creates the pattern handler.
func NewDispatch(processor PatternProcessor, minConfidence float64, minFrequency int) *Dispatch {
	return &Dispatch{processor: processor, minConfidence: minConfidence, minFrequency: minFrequency}
}

// Handle processes one pattern message off the bus.
func (w *Dispatch) Handle(ctx context.Context, _ string, value []byte) error {
	var pattern models.Pattern
	if err := json.Unmarshal(value, &pattern); err != nil {
		return fmt.Errorf("decode pattern message: %w", err)
	}
	if err := pattern.Validate(); err != nil {
		return fmt.Errorf("invalid pattern on bus: %w", err)
	}

	if pattern.Confidence < w.minConfidence || pattern.Frequency < w.minFrequency {
		slog.Debug("Pattern below action thresholds, waiting for growth",
			"pattern_id", pattern.PatternID,
			"confidence", pattern.Confidence, "frequency", pattern.Frequency)
		return nil
	}

	explanation, err := w.processor.ProcessPattern(ctx, &pattern)
	if err != nil {
		return fmt.Errorf("process pattern %s: %w", pattern.PatternID, err)
	}
	slog.Info("Issue cycle completed",
		"pattern_id", pattern.PatternID,
		"issue_id", explanation.IssueID,
		"confidence_level", string(explanation.ConfidenceLevel))
	return nil
}
