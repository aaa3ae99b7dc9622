package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commerceops/driftwatch/pkg/models"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClientFromRedis(rdb), mr
}

func TestPatternCache(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	p := &models.Pattern{
		PatternID:  "abc123",
		Type:       models.PatternAPIFailure,
		SignalIDs:  []string{"s1", "s2"},
		Frequency:  2,
		Confidence: 0.6,
	}
	require.NoError(t, c.SetPattern(ctx, p))

	got, err := c.GetPattern(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, p.SignalIDs, got.SignalIDs)
	assert.InDelta(t, 0.6, got.Confidence, 1e-9)

	t.Run("miss returns ErrNotFound", func(t *testing.T) {
		_, err := c.GetPattern(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("entries expire", func(t *testing.T) {
		mr.FastForward(2 * time.Hour)
		_, err := c.GetPattern(ctx, "abc123")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAllowAction(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	const limit = 3
	for i := range limit {
		ok, err := c.AllowAction(ctx, "merchant-a", models.ActionTemporaryMitigation, limit)
		require.NoError(t, err)
		assert.True(t, ok, "action %d within budget", i+1)
	}

	ok, err := c.AllowAction(ctx, "merchant-a", models.ActionTemporaryMitigation, limit)
	require.NoError(t, err)
	assert.False(t, ok, "budget exhausted")

	t.Run("other merchants unaffected", func(t *testing.T) {
		ok, err := c.AllowAction(ctx, "merchant-b", models.ActionTemporaryMitigation, limit)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("window resets", func(t *testing.T) {
		mr.FastForward(2 * time.Minute)
		ok, err := c.AllowAction(ctx, "merchant-a", models.ActionTemporaryMitigation, limit)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestCooldown(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	in, err := c.InCooldown(ctx, "merchant-a", models.ActionSupportGuidance)
	require.NoError(t, err)
	assert.False(t, in)

	require.NoError(t, c.SetCooldown(ctx, "merchant-a", models.ActionSupportGuidance, 5*time.Minute))
	in, err = c.InCooldown(ctx, "merchant-a", models.ActionSupportGuidance)
	require.NoError(t, err)
	assert.True(t, in)

	mr.FastForward(10 * time.Minute)
	in, err = c.InCooldown(ctx, "merchant-a", models.ActionSupportGuidance)
	require.NoError(t, err)
	assert.False(t, in)
}

func TestSignalBuffer(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	sig := func(id string) *models.Signal {
		return &models.Signal{
			SignalID:   id,
			Source:     models.SourceAPIFailure,
			MerchantID: "m",
			Severity:   models.SeverityHigh,
		}
	}

	require.NoError(t, c.BufferSignal(ctx, sig("s1")))
	require.NoError(t, c.BufferSignal(ctx, sig("s2")))
	require.NoError(t, c.BufferSignal(ctx, sig("s3")))

	n, err := c.BufferedCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	t.Run("pop preserves FIFO order", func(t *testing.T) {
		got, err := c.PopBuffered(ctx, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "s1", got[0].SignalID)
		assert.Equal(t, "s2", got[1].SignalID)
	})

	t.Run("requeue restores head position", func(t *testing.T) {
		require.NoError(t, c.RequeueSignal(ctx, sig("s2")))
		got, err := c.PopBuffered(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "s2", got[0].SignalID)
		assert.Equal(t, "s3", got[1].SignalID)
	})

	t.Run("empty buffer pops nothing", func(t *testing.T) {
		got, err := c.PopBuffered(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestDrainLease(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	ok, err := c.AcquireDrainLease(ctx, "worker-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireDrainLease(ctx, "worker-2")
	require.NoError(t, err)
	assert.False(t, ok, "lease is exclusive")

	t.Run("only the holder can release", func(t *testing.T) {
		require.NoError(t, c.ReleaseDrainLease(ctx, "worker-2"))
		ok, err := c.AcquireDrainLease(ctx, "worker-3")
		require.NoError(t, err)
		assert.False(t, ok, "release by non-holder is a no-op")

		require.NoError(t, c.ReleaseDrainLease(ctx, "worker-1"))
		ok, err = c.AcquireDrainLease(ctx, "worker-3")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
