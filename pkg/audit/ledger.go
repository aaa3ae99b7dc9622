// Package audit maintains the per-issue hash-chained decision ledger. Every
// pipeline stage appends an entry linking to the previous one, making any
// later tampering detectable by a verification walk.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/commerceops/driftwatch/pkg/models"
	"github.com/commerceops/driftwatch/pkg/store"
)

// Event types recorded on the ledger.
const (
	EventSignalReceived    = "signal_received"
	EventPatternDetected   = "pattern_detected"
	EventAnalysisCompleted = "analysis_completed"
	EventDecisionMade      = "decision_made"
	EventActionExecuted    = "action_executed"
	EventActionFailed      = "action_failed"
	EventApprovalRequested = "approval_requested"
	EventApprovalResolved  = "approval_resolved"
	EventStageFailed       = "stage_failed"
	EventSafeModeChanged   = "safe_mode_changed"
)

// Store is the persistence surface the ledger needs.
type Store interface {
	Insert(ctx context.Context, e *models.AuditEntry) error
	Last(ctx context.Context, issueID string) (*models.AuditEntry, error)
	ListByIssue(ctx context.Context, issueID string) ([]*models.AuditEntry, error)
}

// Ledger appends hash-chained entries. Appends for the same issue are
// serialized so two writers cannot both link to the same predecessor.
type Ledger struct {
	store Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLedger creates a ledger over the given store.
func NewLedger(s Store) *Ledger {
	return &Ledger{store: s, locks: make(map[string]*sync.Mutex)}
}

func (l *Ledger) issueLock(issueID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[issueID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[issueID] = lock
	}
	return lock
}

// Record appends one entry to the issue's chain and returns it. The entry's
// previous_hash is the stored head's hash, or empty for a fresh chain.
func (l *Ledger) Record(ctx context.Context, issueID, eventType, actor string, inputs, outputs map[string]any, reasoning string) (*models.AuditEntry, error) {
	lock := l.issueLock(issueID)
	lock.Lock()
	defer lock.Unlock()

	entry := &models.AuditEntry{
		AuditID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		IssueID:   issueID,
		EventType: eventType,
		Actor:     actor,
		Inputs:    inputs,
		Outputs:   outputs,
		Reasoning: reasoning,
	}

	last, err := l.store.Last(ctx, issueID)
	switch {
	case err == nil:
		entry.PreviousHash = last.Hash
	case errors.Is(err, store.ErrNotFound):
		// fresh chain
	default:
		return nil, fmt.Errorf("read chain head: %w", err)
	}

	entry.Hash, err = entry.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("hash audit entry: %w", err)
	}
	if err := l.store.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	return entry, nil
}

// VerificationResult reports the outcome of a chain walk.
type VerificationResult struct {
	Valid   bool   `json:"valid"`
	Entries int    `json:"entries"`
	Broken  string `json:"broken_audit_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Verify walks an issue's chain oldest-first, recomputing every hash and
// checking every link. The first broken entry is identified.
func (l *Ledger) Verify(ctx context.Context, issueID string) (*VerificationResult, error) {
	entries, err := l.store.ListByIssue(ctx, issueID)
	if err != nil {
		return nil, fmt.Errorf("load chain: %w", err)
	}

	result := &VerificationResult{Valid: true, Entries: len(entries)}
	prevHash := ""
	for _, e := range entries {
		if e.PreviousHash != prevHash {
			result.Valid = false
			result.Broken = e.AuditID
			result.Reason = "previous_hash does not match preceding entry"
			return result, nil
		}
		recomputed, err := e.ComputeHash()
		if err != nil {
			return nil, fmt.Errorf("recompute hash: %w", err)
		}
		if recomputed != e.Hash {
			result.Valid = false
			result.Broken = e.AuditID
			result.Reason = "stored hash does not match entry contents"
			return result, nil
		}
		prevHash = e.Hash
	}
	return result, nil
}

// Trail returns an issue's full chain in order.
func (l *Ledger) Trail(ctx context.Context, issueID string) ([]*models.AuditEntry, error) {
	return l.store.ListByIssue(ctx, issueID)
}
