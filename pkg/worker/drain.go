package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/commerceops/driftwatch/pkg/degradation"
	"github.com/commerceops/driftwatch/pkg/models"
)

// drainBatch bounds how many buffered signals one drain pass republishes.
const drainBatch = 100

// Buffer is the Redis signal buffer used while the event bus is down.
type Buffer interface {
	BufferedCount(ctx context.Context) (int64, error)
	PopBuffered(ctx context.Context, n int) ([]*models.Signal, error)
	RequeueSignal(ctx context.Context, sig *models.Signal) error
	AcquireDrainLease(ctx context.Context, holder string) (bool, error)
	ReleaseDrainLease(ctx context.Context, holder string) error
}

// SignalPublisher republishes drained signals onto the bus.
type SignalPublisher interface {
	PublishSignal(ctx context.Context, sig *models.Signal) error
}

// Drainer moves buffered signals back onto the bus once it recovers,
// preserving their buffered order. The lease keeps concurrent processes from
// interleaving each other's batches.
type Drainer struct {
	buffer    Buffer
	publisher SignalPublisher
	tracker   *degradation.Tracker
	holder    string
	interval  time.Duration
}

// NewDrainer creates a drainer identified by holder (typically hostname+pid).
func NewDrainer(buffer Buffer, publisher SignalPublisher, tracker *degradation.Tracker, holder string, interval time.Duration) *Drainer {
	return &Drainer{
		buffer:    buffer,
		publisher: publisher,
		tracker:   tracker,
		holder:    holder,
		interval:  interval,
	}
}

// Run polls until ctx is canceled, draining whenever the bus is healthy and
// signals are waiting.
func (d *Drainer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.tracker.Degraded(degradation.DepBus) {
				continue
			}
			if _, err := d.DrainOnce(ctx); err != nil {
				slog.Warn("Buffer drain interrupted", "error", err)
			}
		}
	}
}

// DrainOnce republishes up to one batch of buffered signals in order.
// Returns the number successfully republished. On a publish failure the
// unpublished remainder is requeued at the head, order intact, and the bus
// is marked degraded again.
func (d *Drainer) DrainOnce(ctx context.Context) (int, error) {
	pending, err := d.buffer.BufferedCount(ctx)
	if err != nil || pending == 0 {
		return 0, err
	}

	acquired, err := d.buffer.AcquireDrainLease(ctx, d.holder)
	if err != nil || !acquired {
		return 0, err
	}
	defer func() {
		if err := d.buffer.ReleaseDrainLease(ctx, d.holder); err != nil {
			slog.Warn("Drain lease release failed", "holder", d.holder, "error", err)
		}
	}()

	batch, err := d.buffer.PopBuffered(ctx, drainBatch)
	if err != nil {
		return 0, err
	}

	for i, sig := range batch {
		if err := d.publisher.PublishSignal(ctx, sig); err != nil {
			d.tracker.SetDegraded(degradation.DepBus, true)
			d.requeue(ctx, batch[i:])
			return i, err
		}
	}

	slog.Info("Drained buffered signals back to the bus",
		"count", len(batch), "remaining", pending-int64(len(batch)))
	return len(batch), nil
}

// requeue pushes unpublished signals back to the buffer head in reverse so
// they come out in their original order next time.
func (d *Drainer) requeue(ctx context.Context, rest []*models.Signal) {
	for i := len(rest) - 1; i >= 0; i-- {
		if err := d.buffer.RequeueSignal(ctx, rest[i]); err != nil {
			slog.Error("Requeue of buffered signal failed",
				"signal_id", rest[i].SignalID, "error", err)
		}
	}
}
