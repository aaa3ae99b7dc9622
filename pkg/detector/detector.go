// Package detector correlates signals into patterns: cross-merchant spikes,
// per-merchant frequency bursts, and similarity clusters over error
// messages. Detection runs both per-signal (known-pattern matching) and on a
// periodic sweep over the sliding window.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/commerceops/driftwatch/pkg/bus"
	"github.com/commerceops/driftwatch/pkg/cache"
	"github.com/commerceops/driftwatch/pkg/config"
	"github.com/commerceops/driftwatch/pkg/degradation"
	"github.com/commerceops/driftwatch/pkg/models"
	"github.com/commerceops/driftwatch/pkg/store"
)

// Pattern kinds used to derive stable pattern ids.
const (
	kindCrossMerchant = "cross_merchant"
	kindFrequency     = "frequency"
	kindSimilarity    = "similarity"
)

// Confidence ceilings per detection method. Similarity clusters carry the
// most noise and cap lowest.
const (
	crossMerchantCap = models.MaxPatternConfidence
	frequencyCap     = 0.90
	similarityCap    = 0.85
)

// casAttempts bounds optimistic-update retries per pattern.
const casAttempts = 3

// PatternStore is the persistence surface the detector needs.
type PatternStore interface {
	Get(ctx context.Context, patternID string) (*models.Pattern, error)
	Create(ctx context.Context, p *models.Pattern) error
	Update(ctx context.Context, p *models.Pattern) error
}

// SignalSearch finds historical signals resembling a live one.
type SignalSearch interface {
	SimilarSignals(ctx context.Context, sig *models.Signal, since time.Time, limit int) ([]*models.Signal, error)
}

// Detector owns the sliding window and produces patterns.
type Detector struct {
	cfg       config.DetectionConfig
	window    *Window
	patterns  PatternStore
	search    SignalSearch
	cache     *cache.Client
	publisher bus.Publisher
	degraded  *degradation.Tracker
}

// New creates a detector. cache and publisher may be nil in tests.
func New(cfg config.DetectionConfig, patterns PatternStore, search SignalSearch, c *cache.Client, pub bus.Publisher, deg *degradation.Tracker) *Detector {
	return &Detector{
		cfg:       cfg,
		window:    NewWindow(cfg.WindowSize, cfg.WindowDuration),
		patterns:  patterns,
		search:    search,
		cache:     c,
		publisher: pub,
		degraded:  deg,
	}
}

// Observe adds a signal to the window and matches it against known patterns.
// Returns the patterns the signal joined or strengthened.
func (d *Detector) Observe(ctx context.Context, sig *models.Signal) ([]*models.Pattern, error) {
	d.window.Add(sig)

	var updated []*models.Pattern
	for _, candidateID := range d.candidateIDs(ctx, sig) {
		existing, err := d.lookup(ctx, candidateID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return updated, err
		}
		existing.AddSignal(sig.SignalID, sig.MerchantID, sig.Timestamp)
		existing.RaiseConfidence(0.5 + 0.05*float64(existing.Frequency))
		if err := d.persist(ctx, existing, sig); err != nil {
			return updated, err
		}
		updated = append(updated, existing)
	}
	return updated, nil
}

// candidateIDs lists the stable pattern ids this signal could belong to.
// Coded signals name their group patterns directly; code-less signals go
// through the similarity lookup.
func (d *Detector) candidateIDs(ctx context.Context, sig *models.Signal) []string {
	if sig.ErrorCode == "" {
		return d.similarityCandidates(ctx, sig)
	}
	return []string{
		models.PatternID(kindCrossMerchant, sig.Source, sig.ErrorCode),
		models.PatternID(kindFrequency, sig.Source, sig.MerchantID+":"+sig.ErrorCode),
	}
}

// similarityCandidates resolves a message-only signal to pattern ids through
// the search index: historical lookalikes either anchor a similarity cluster
// or carry an error code naming a grouped pattern.
func (d *Detector) similarityCandidates(ctx context.Context, sig *models.Signal) []string {
	if sig.ErrorMessage == "" || d.search == nil ||
		(d.degraded != nil && d.degraded.Degraded(degradation.DepSearch)) {
		return nil
	}
	since := time.Now().UTC().Add(-d.cfg.WindowDuration * 24)
	similar, err := d.search.SimilarSignals(ctx, sig, since, 20)
	if err != nil {
		slog.Warn("Similarity lookup failed, window-only matching", "signal_id", sig.SignalID, "error", err)
		if d.degraded != nil {
			d.degraded.SetDegraded(degradation.DepSearch, true)
		}
		return nil
	}

	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, hit := range similar {
		if hit.ErrorCode != "" {
			add(models.PatternID(kindCrossMerchant, hit.Source, hit.ErrorCode))
			add(models.PatternID(kindFrequency, hit.Source, hit.MerchantID+":"+hit.ErrorCode))
			continue
		}
		// A code-less hit may be the anchor member of a similarity cluster.
		add(models.PatternID(kindSimilarity, hit.Source, hit.SignalID))
	}
	return ids
}

// persist writes a strengthened known pattern through the optimistic-update
// loop, re-reading and re-applying the signal on version conflicts, then
// refreshes the cache and publishes.
func (d *Detector) persist(ctx context.Context, p *models.Pattern, sig *models.Signal) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		err := d.patterns.Update(ctx, p)
		if errors.Is(err, store.ErrVersionConflict) {
			fresh, getErr := d.patterns.Get(ctx, p.PatternID)
			if getErr != nil {
				return getErr
			}
			fresh.AddSignal(sig.SignalID, sig.MerchantID, sig.Timestamp)
			fresh.RaiseConfidence(0.5 + 0.05*float64(fresh.Frequency))
			*p = *fresh
			continue
		}
		if err != nil {
			return err
		}
		return d.afterWrite(ctx, p)
	}
	return fmt.Errorf("pattern %s: update contention exhausted %d attempts", p.PatternID, casAttempts)
}

// Run executes the periodic sweep until ctx is canceled.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.AnalysisInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if patterns, err := d.Sweep(ctx); err != nil {
				slog.Error("Detection sweep failed", "error", err)
			} else if len(patterns) > 0 {
				slog.Info("Detection sweep produced patterns", "count", len(patterns))
			}
		}
	}
}

// Sweep analyzes the current window and upserts every detected pattern.
// Cross-merchant detection runs first and claims its signal groups, so a
// burst hitting many merchants is reported once, not per merchant.
func (d *Detector) Sweep(ctx context.Context) ([]*models.Pattern, error) {
	signals := d.window.Snapshot()
	if len(signals) == 0 {
		return nil, nil
	}

	claimed := make(map[string]bool)
	var out []*models.Pattern

	for _, cand := range d.detectCrossMerchant(signals) {
		for _, id := range cand.SignalIDs {
			claimed[id] = true
		}
		p, err := d.upsert(ctx, cand)
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	for _, cand := range d.detectFrequency(signals, claimed) {
		p, err := d.upsert(ctx, cand)
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	for _, cand := range d.detectSimilarity(signals, claimed) {
		p, err := d.upsert(ctx, cand)
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

// detectCrossMerchant groups the window by source and error code and emits a
// pattern when enough distinct merchants share the failure.
func (d *Detector) detectCrossMerchant(signals []*models.Signal) []*models.Pattern {
	type group struct {
		signals   []*models.Signal
		merchants map[string]bool
	}
	groups := make(map[string]*group)
	for _, sig := range signals {
		if sig.ErrorCode == "" {
			continue
		}
		key := string(sig.Source) + "|" + sig.ErrorCode
		g, ok := groups[key]
		if !ok {
			g = &group{merchants: make(map[string]bool)}
			groups[key] = g
		}
		g.signals = append(g.signals, sig)
		g.merchants[sig.MerchantID] = true
	}

	var out []*models.Pattern
	for _, g := range groups {
		if len(g.merchants) < d.cfg.MinCrossMerchants {
			continue
		}
		first := g.signals[0]
		p := newPattern(models.PatternID(kindCrossMerchant, first.Source, first.ErrorCode), g.signals)
		p.Characteristics = map[string]any{
			"kind":           kindCrossMerchant,
			"error_code":     first.ErrorCode,
			"cross_merchant": true,
		}
		conf := 0.6 + 0.05*float64(len(g.merchants)) + 0.02*float64(len(g.signals))
		p.RaiseConfidence(min(conf, crossMerchantCap))
		out = append(out, p)
	}
	return out
}

// detectFrequency emits a pattern when one merchant repeats the same error
// code often enough. Groups already claimed by cross-merchant detection are
// skipped.
func (d *Detector) detectFrequency(signals []*models.Signal, claimed map[string]bool) []*models.Pattern {
	groups := make(map[string][]*models.Signal)
	for _, sig := range signals {
		if sig.ErrorCode == "" || claimed[sig.SignalID] {
			continue
		}
		key := string(sig.Source) + "|" + sig.MerchantID + "|" + sig.ErrorCode
		groups[key] = append(groups[key], sig)
	}

	var out []*models.Pattern
	for _, g := range groups {
		if len(g) < d.cfg.MinFrequencyCount {
			continue
		}
		first := g[0]
		p := newPattern(models.PatternID(kindFrequency, first.Source, first.MerchantID+":"+first.ErrorCode), g)
		p.Characteristics = map[string]any{
			"kind":       kindFrequency,
			"error_code": first.ErrorCode,
		}
		p.RaiseConfidence(min(0.5+0.05*float64(len(g)), frequencyCap))
		out = append(out, p)
	}
	return out
}

// detectSimilarity clusters code-less signals by error-message shape.
// Signals carrying an error code are already covered by the grouping passes.
func (d *Detector) detectSimilarity(signals []*models.Signal, claimed map[string]bool) []*models.Pattern {
	var pool []*models.Signal
	for _, sig := range signals {
		if sig.ErrorCode == "" && sig.ErrorMessage != "" && !claimed[sig.SignalID] {
			pool = append(pool, sig)
		}
	}
	if len(pool) < d.cfg.MinClusterSignals {
		return nil
	}

	messages := make([]string, len(pool))
	for i, sig := range pool {
		messages[i] = sig.ErrorMessage
	}
	vectors := vectorizeAll(messages)

	var out []*models.Pattern
	for _, members := range clusterIndices(vectors, d.cfg.MinClusterSignals) {
		cluster := make([]*models.Signal, len(members))
		for i, idx := range members {
			cluster[i] = pool[idx]
		}
		// Anchor the id on the lexicographically smallest member so
		// re-detection in later sweeps updates the same pattern.
		ids := make([]string, len(cluster))
		for i, sig := range cluster {
			ids[i] = sig.SignalID
		}
		sort.Strings(ids)

		first := cluster[0]
		p := newPattern(models.PatternID(kindSimilarity, first.Source, ids[0]), cluster)
		p.Characteristics = map[string]any{
			"kind":           kindSimilarity,
			"sample_message": first.ErrorMessage,
		}
		p.RaiseConfidence(min(0.5+0.04*float64(len(cluster)), similarityCap))
		out = append(out, p)
	}
	return out
}

func newPattern(id string, signals []*models.Signal) *models.Pattern {
	p := &models.Pattern{
		PatternID: id,
		Type:      models.PatternTypeForSource(signals[0].Source),
		FirstSeen: signals[0].Timestamp,
		LastSeen:  signals[0].Timestamp,
	}
	for _, sig := range signals {
		if sig.Timestamp.Before(p.FirstSeen) {
			p.FirstSeen = sig.Timestamp
		}
		p.AddSignal(sig.SignalID, sig.MerchantID, sig.Timestamp)
	}
	return p
}

// lookup checks the cache before the store.
func (d *Detector) lookup(ctx context.Context, patternID string) (*models.Pattern, error) {
	if d.cache != nil {
		if p, err := d.cache.GetPattern(ctx, patternID); err == nil {
			return p, nil
		}
	}
	return d.patterns.Get(ctx, patternID)
}

// upsert merges a candidate into stored state, enriches it from the search
// index when healthy, and publishes the result.
func (d *Detector) upsert(ctx context.Context, cand *models.Pattern) (*models.Pattern, error) {
	d.enrichFromHistory(ctx, cand)

	for attempt := 0; attempt < casAttempts; attempt++ {
		existing, err := d.patterns.Get(ctx, cand.PatternID)
		if errors.Is(err, store.ErrNotFound) {
			if err := d.patterns.Create(ctx, cand); err != nil {
				continue // lost the create race, re-read and merge
			}
			return cand, d.afterWrite(ctx, cand)
		}
		if err != nil {
			return nil, err
		}

		existing.Merge(cand)
		existing.RaiseConfidence(cand.Confidence)
		if existing.Characteristics == nil {
			existing.Characteristics = cand.Characteristics
		}

		err = d.patterns.Update(ctx, existing)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return existing, d.afterWrite(ctx, existing)
	}
	return nil, fmt.Errorf("pattern %s: update contention exhausted %d attempts", cand.PatternID, casAttempts)
}

// enrichFromHistory extends a candidate with matching stored signals. When
// the search index is degraded the pattern is built from the window alone.
func (d *Detector) enrichFromHistory(ctx context.Context, cand *models.Pattern) {
	if d.search == nil || d.degraded == nil || d.degraded.Degraded(degradation.DepSearch) {
		return
	}
	probe := &models.Signal{
		SignalID: cand.SignalIDs[0],
		Source:   sourceForPatternType(cand.Type),
	}
	if code, ok := cand.Characteristics["error_code"].(string); ok {
		probe.ErrorCode = code
	}
	if msg, ok := cand.Characteristics["sample_message"].(string); ok {
		probe.ErrorMessage = msg
	}
	if probe.ErrorCode == "" && probe.ErrorMessage == "" {
		return
	}
	since := time.Now().UTC().Add(-d.cfg.WindowDuration * 24)
	historical, err := d.search.SimilarSignals(ctx, probe, since, 100)
	if err != nil {
		slog.Warn("Search enrichment failed, continuing with window only", "error", err)
		d.degraded.SetDegraded(degradation.DepSearch, true)
		return
	}
	for _, sig := range historical {
		cand.AddSignal(sig.SignalID, sig.MerchantID, sig.Timestamp)
	}
}

func sourceForPatternType(t models.PatternType) models.SignalSource {
	switch t {
	case models.PatternAPIFailure:
		return models.SourceAPIFailure
	case models.PatternCheckoutIssue:
		return models.SourceCheckoutError
	case models.PatternWebhookProblem:
		return models.SourceWebhookFailure
	default:
		return models.SourceSupportTicket
	}
}

// afterWrite caches and publishes a persisted pattern. Both are best-effort.
func (d *Detector) afterWrite(ctx context.Context, p *models.Pattern) error {
	if d.cache != nil {
		if err := d.cache.SetPattern(ctx, p); err != nil {
			slog.Warn("Failed to cache pattern", "pattern_id", p.PatternID, "error", err)
		}
	}
	if d.publisher != nil {
		if err := d.publisher.PublishPattern(ctx, p); err != nil {
			slog.Warn("Failed to publish pattern", "pattern_id", p.PatternID, "error", err)
			if d.degraded != nil {
				d.degraded.SetDegraded(degradation.DepBus, true)
			}
		}
	}
	return nil
}
