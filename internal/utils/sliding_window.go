package utils

import (
	"sync"
	"time"
)

type hit struct {
	at    time.Time
	value string
}

// SlidingWindow keeps recent values seen inside a time window, bounded
// to the newest max entries when max > 0.
type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	hits   []hit
}

func NewSlidingWindow(window time.Duration, max int) *SlidingWindow {
	return &SlidingWindow{window: window, max: max}
}

// Add records value at now and returns how many entries inside the
// window carry the same value.
func (w *SlidingWindow) Add(now time.Time, value string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	w.hits = append(w.hits, hit{at: now, value: value})
	if w.max > 0 && len(w.hits) > w.max {
		w.hits = w.hits[len(w.hits)-w.max:]
	}
	count := 0
	for _, h := range w.hits {
		if h.value == value {
			count++
		}
	}
	return count
}

func (w *SlidingWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	return len(w.hits)
}

func (w *SlidingWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hits = nil
}

func (w *SlidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	idx := 0
	for _, h := range w.hits {
		if h.at.After(cutoff) {
			break
		}
		idx++
	}
	w.hits = w.hits[idx:]
}
