package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"noctis-guard/internal/clock"
)

// Entry is the scheduling view of a deadline-bearing entity.
type Entry struct {
	ID       string
	Deadline time.Time
	Done     bool
}

// Scheduler arms at most one timer per entity id and invokes fire once
// the deadline passes.
type Scheduler struct {
	mu     sync.Mutex
	clock  clock.Clock
	fire   func(ctx context.Context, id string)
	logger *zap.Logger
	timers map[string]clock.Timer
}

func New(clk clock.Clock, fire func(ctx context.Context, id string), logger *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	return &Scheduler{
		clock:  clk,
		fire:   fire,
		logger: logger.Named("scheduler"),
		timers: make(map[string]clock.Timer),
	}
}

// Schedule fires immediately when the deadline already passed, and
// ignores finished entries and ids that already have a timer.
func (s *Scheduler) Schedule(ctx context.Context, entry Entry) {
	if entry.Done {
		return
	}
	delay := entry.Deadline.Sub(s.clock.Now())
	if delay <= 0 {
		s.fire(ctx, entry.ID)
		return
	}

	s.mu.Lock()
	if _, ok := s.timers[entry.ID]; ok {
		s.mu.Unlock()
		return
	}
	id := entry.ID
	s.timers[id] = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		s.fire(context.WithoutCancel(ctx), id)
	})
	s.mu.Unlock()
	s.logger.Debug("timer armed", zap.String("id", id), zap.Duration("delay", delay))
}

// Cancel disarms the timer for id and reports whether one existed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.timers[id]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.timers, id)
	return true
}

func (s *Scheduler) RebuildAll(ctx context.Context, entries []Entry) {
	for _, entry := range entries {
		s.Schedule(ctx, entry)
	}
}

func (s *Scheduler) Scheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop disarms every timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}
