package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditEntryComputeHash(t *testing.T) {
	entry := func() *AuditEntry {
		return &AuditEntry{
			AuditID:   "aud-1",
			Timestamp: time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
			IssueID:   "iss-1",
			EventType: "analysis_completed",
			Actor:     "system",
			Inputs:    map[string]any{"pattern_id": "abc123", "frequency": 7},
			Outputs:   map[string]any{"category": "config_error", "confidence": 0.82},
			Reasoning: "error rate correlated with webhook timeout setting",
		}
	}

	t.Run("deterministic across recomputation", func(t *testing.T) {
		a, err := entry().ComputeHash()
		require.NoError(t, err)
		b, err := entry().ComputeHash()
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})

	t.Run("previous hash is covered", func(t *testing.T) {
		e1 := entry()
		h1, err := e1.ComputeHash()
		require.NoError(t, err)

		e2 := entry()
		e2.PreviousHash = h1
		h2, err := e2.ComputeHash()
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})

	t.Run("any field change changes the hash", func(t *testing.T) {
		base, err := entry().ComputeHash()
		require.NoError(t, err)

		mutated := entry()
		mutated.Outputs["confidence"] = 0.83
		got, err := mutated.ComputeHash()
		require.NoError(t, err)
		assert.NotEqual(t, base, got)
	})
}

func TestCanonicalJSON(t *testing.T) {
	t.Run("map keys are sorted", func(t *testing.T) {
		out, err := CanonicalJSON(map[string]any{"zebra": 1, "apple": 2, "mango": 3})
		require.NoError(t, err)
		assert.JSONEq(t, `{"apple":2,"mango":3,"zebra":1}`, string(out))
		assert.Equal(t, `{"apple":2,"mango":3,"zebra":1}`, string(out))
	})

	t.Run("numbers survive round-trip verbatim", func(t *testing.T) {
		out, err := CanonicalJSON(map[string]any{"rate": 0.1, "count": 42})
		require.NoError(t, err)
		assert.Equal(t, `{"count":42,"rate":0.1}`, string(out))
	})

	t.Run("stable for nested structures", func(t *testing.T) {
		v := map[string]any{
			"outer": map[string]any{"b": []any{1, 2}, "a": "x"},
		}
		a, err := CanonicalJSON(v)
		require.NoError(t, err)
		b, err := CanonicalJSON(v)
		require.NoError(t, err)
		assert.Equal(t, string(a), string(b))
	})
}

func TestConfigSnapshotChecksum(t *testing.T) {
	snap := &ConfigSnapshot{
		ResourceType: "webhook",
		ResourceID:   "wh-42",
		ConfigData:   map[string]any{"url": "https://example.test/hook", "timeout": 30},
	}
	a, err := snap.ComputeChecksum()
	require.NoError(t, err)
	b, err := snap.ComputeChecksum()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	snap.ConfigData["timeout"] = 60
	c, err := snap.ComputeChecksum()
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
