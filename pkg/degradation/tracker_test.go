package degradation

import (
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

func TestTrackerFlipsBits(t *testing.T) {
	tr := NewTracker()
	assert.False(t, tr.Degraded(DepLLM))

	tr.SetDegraded(DepLLM, true)
	assert.True(t, tr.Degraded(DepLLM))
	assert.False(t, tr.Degraded(DepSearch), "bits are independent")

	tr.SetDegraded(DepLLM, false)
	assert.False(t, tr.Degraded(DepLLM))
}

func TestSnapshot(t *testing.T) {
	tr := NewTracker()
	tr.SetDegraded(DepBus, true)
	tr.SetDegraded(DepSearch, true)
	tr.SetDegraded(DepSearch, false)

	assert.Equal(t, []string{DepBus}, tr.Snapshot())
}

func TestOnEdgeFiresOnTransitionsOnly(t *testing.T) {
	type edge struct {
		dep      string
		degraded bool
		total    int
	}
	var edges []edge

	tr := NewTracker()
	tr.OnEdge(func(dep string, degraded bool, total int) {
		edges = append(edges, edge{dep, degraded, total})
	})

	tr.SetDegraded(DepBus, true)
	tr.SetDegraded(DepBus, true) // no edge
	tr.SetDegraded(DepSearch, true)
	tr.SetDegraded(DepBus, false)

	assert.Equal(t, []edge{
		{DepBus, true, 1},
		{DepSearch, true, 2},
		{DepBus, false, 1},
	}, edges)
}

func TestBreakerListener(t *testing.T) {
	tr := NewTracker()

	tr.BreakerListener(DepLLM, gobreaker.StateClosed, gobreaker.StateOpen)
	assert.True(t, tr.Degraded(DepLLM))

	// Half-open probes do not clear the bit.
	tr.BreakerListener(DepLLM, gobreaker.StateOpen, gobreaker.StateHalfOpen)
	assert.True(t, tr.Degraded(DepLLM))

	tr.BreakerListener(DepLLM, gobreaker.StateHalfOpen, gobreaker.StateClosed)
	assert.False(t, tr.Degraded(DepLLM))
}
