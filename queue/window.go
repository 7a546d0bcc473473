package queue

import (
	"slices"
	"time"
)

// window is a sliding log of claim times: at most max stamps fall inside
// any span of length d. Callers hold Manager.mu.
type window struct {
	max    int
	d      time.Duration
	stamps []time.Time // ascending
}

func newWindow(maxClaims int, d time.Duration) *window {
	return &window{max: maxClaims, d: d, stamps: make([]time.Time, 0, maxClaims)}
}

func (w *window) expire(now time.Time) {
	cutoff := now.Add(-w.d)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// reserve records a claim at now, or reports how long until the oldest
// stamp leaves the window.
func (w *window) reserve(now time.Time) (time.Time, time.Duration, bool) {
	w.expire(now)
	if len(w.stamps) >= w.max {
		return time.Time{}, w.stamps[0].Add(w.d).Sub(now), false
	}
	if n := len(w.stamps); n > 0 && now.Before(w.stamps[n-1]) {
		now = w.stamps[n-1]
	}
	w.stamps = append(w.stamps, now)
	return now, 0, true
}

func (w *window) cancel(stamp time.Time) {
	for i := len(w.stamps) - 1; i >= 0; i-- {
		if w.stamps[i].Equal(stamp) {
			w.stamps = slices.Delete(w.stamps, i, i+1)
			return
		}
	}
}
