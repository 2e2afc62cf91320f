package moderation

import (
	"sync"
	"time"
)

// DMGuard suppresses repeated direct messages to the same user inside
// a short interval.
type DMGuard struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
}

func NewDMGuard(interval time.Duration) *DMGuard {
	return &DMGuard{interval: interval, last: make(map[string]time.Time)}
}

func (g *DMGuard) Allow(userID string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if last, ok := g.last[userID]; ok && now.Sub(last) < g.interval {
		return false
	}
	g.last[userID] = now
	if len(g.last) > 1024 {
		for id, at := range g.last {
			if now.Sub(at) >= g.interval {
				delete(g.last, id)
			}
		}
	}
	return true
}
