package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// AuditEntry is one immutable record in a per-issue hash chain. The chain is
// tamper-evident per issue, not globally.
type AuditEntry struct {
	AuditID   string    `json:"audit_id" db:"audit_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	IssueID   string    `json:"issue_id" db:"issue_id"`
	EventType string    `json:"event_type" db:"event_type"`
	Actor     string    `json:"actor" db:"actor"`

	Inputs    map[string]any `json:"inputs,omitempty"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	Reasoning string         `json:"reasoning,omitempty" db:"reasoning"`

	Hash         string `json:"hash" db:"hash"`
	PreviousHash string `json:"previous_hash" db:"previous_hash"`
}

// ComputeHash returns SHA-256 over the canonical JSON of all fields except
// Hash itself (PreviousHash included). Stored and recomputed hashes must
// match for the chain to verify.
func (e *AuditEntry) ComputeHash() (string, error) {
	payload := map[string]any{
		"audit_id":      e.AuditID,
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"issue_id":      e.IssueID,
		"event_type":    e.EventType,
		"actor":         e.Actor,
		"inputs":        e.Inputs,
		"outputs":       e.Outputs,
		"reasoning":     e.Reasoning,
		"previous_hash": e.PreviousHash,
	}
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
