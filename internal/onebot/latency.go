package onebot

import (
	"sync"
	"time"
)

// latencyWindow keeps action round-trip samples from the last minute and
// reports their average. Older samples fall off on each access.
type latencyWindow struct {
	mu      sync.Mutex
	window  time.Duration
	samples []latencySample
}

type latencySample struct {
	at time.Time
	d  time.Duration
}

func newLatencyWindow() *latencyWindow {
	return &latencyWindow{window: time.Minute}
}

func (w *latencyWindow) Record(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(time.Now())
	w.samples = append(w.samples, latencySample{at: time.Now(), d: d})
}

// Avg returns the mean round trip over the window, or zero with no samples.
func (w *latencyWindow) Avg() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(time.Now())
	if len(w.samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range w.samples {
		total += s.d
	}
	return total / time.Duration(len(w.samples))
}

func (w *latencyWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(time.Now())
	return len(w.samples)
}

// prune drops samples older than the window. Callers hold w.mu.
func (w *latencyWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	keep := w.samples[:0]
	for _, s := range w.samples {
		if s.at.After(cutoff) {
			keep = append(keep, s)
		}
	}
	w.samples = keep
}
