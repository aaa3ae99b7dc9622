package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		path := []IssueStatus{
			IssueNew, IssueObserving, IssuePatternDetected,
			IssueAnalyzed, IssueDecided, IssueActionExecuted,
		}
		for i := 1; i < len(path); i++ {
			assert.True(t, CanTransition(path[i-1], path[i]),
				"%s -> %s should be allowed", path[i-1], path[i])
		}
	})

	t.Run("approval path", func(t *testing.T) {
		assert.True(t, CanTransition(IssueDecided, IssuePendingApproval))
		assert.True(t, CanTransition(IssuePendingApproval, IssueActionExecuted))
		assert.True(t, CanTransition(IssuePendingApproval, IssueRejected))
	})

	t.Run("any state may fail", func(t *testing.T) {
		for _, from := range []IssueStatus{IssueNew, IssueObserving, IssueAnalyzed, IssueActionExecuted} {
			assert.True(t, CanTransition(from, IssueFailed))
		}
	})

	t.Run("skipping stages is rejected", func(t *testing.T) {
		assert.False(t, CanTransition(IssueNew, IssueDecided))
		assert.False(t, CanTransition(IssueObserving, IssueActionExecuted))
	})

	t.Run("terminal states have no successors", func(t *testing.T) {
		for _, from := range []IssueStatus{IssueActionExecuted, IssueRejected, IssueFailed} {
			assert.False(t, CanTransition(from, IssueObserving))
			assert.False(t, CanTransition(from, IssueDecided))
		}
	})
}

func TestIssueStateTransition(t *testing.T) {
	issue := &IssueState{IssueID: "iss-1", Status: IssueNew}

	require.NoError(t, issue.Transition(IssueObserving))
	assert.Equal(t, IssueObserving, issue.Status)
	assert.False(t, issue.UpdatedAt.IsZero())

	t.Run("invalid move fails closed", func(t *testing.T) {
		err := issue.Transition(IssueActionExecuted)
		require.Error(t, err)
		assert.Equal(t, IssueObserving, issue.Status, "status unchanged on rejected transition")
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		assert.Error(t, issue.Transition(IssueStatus("resolved")))
	})
}
