package detector

import (
	"sync"
	"time"

	"github.com/commerceops/driftwatch/pkg/models"
)

// Window is the in-memory sliding window of recent signals, bounded by both
// count and age. Oldest signals are evicted first.
type Window struct {
	mu      sync.Mutex
	signals []*models.Signal
	maxSize int
	maxAge  time.Duration
}

// NewWindow creates a window with the given bounds.
func NewWindow(maxSize int, maxAge time.Duration) *Window {
	return &Window{maxSize: maxSize, maxAge: maxAge}
}

// Add appends a signal and evicts anything over the bounds.
func (w *Window) Add(sig *models.Signal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.signals = append(w.signals, sig)
	w.trim(time.Now().UTC())
}

// trim drops expired and overflow entries. Caller holds the lock.
func (w *Window) trim(now time.Time) {
	cutoff := now.Add(-w.maxAge)
	start := 0
	for start < len(w.signals) && w.signals[start].Timestamp.Before(cutoff) {
		start++
	}
	if overflow := len(w.signals) - start - w.maxSize; overflow > 0 {
		start += overflow
	}
	if start > 0 {
		w.signals = append([]*models.Signal(nil), w.signals[start:]...)
	}
}

// Snapshot returns a copy of the current window contents, oldest first.
func (w *Window) Snapshot() []*models.Signal {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trim(time.Now().UTC())
	return append([]*models.Signal(nil), w.signals...)
}

// Len reports the current window size.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.signals)
}
