package webhook

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"noctis-guard/internal/storage"
)

const activityStore = "dashboard-activity"

type Activity struct {
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
	Message   string `json:"message"`
}

// ActivityLog keeps the newest entries per guild, newest first.
type ActivityLog struct {
	mu      sync.Mutex
	backend storage.Backend
	retain  int
	entries map[string][]Activity
	logger  *zap.Logger
}

func NewActivityLog(backend storage.Backend, retain int, logger *zap.Logger) *ActivityLog {
	if retain <= 0 {
		retain = 200
	}
	return &ActivityLog{backend: backend, retain: retain, entries: make(map[string][]Activity), logger: logger}
}

func (a *ActivityLog) Load(ctx context.Context) error {
	entries := make(map[string][]Activity)
	if err := a.backend.Load(ctx, activityStore, &entries); err != nil {
		return err
	}
	a.mu.Lock()
	a.entries = entries
	a.mu.Unlock()
	return nil
}

func (a *ActivityLog) Add(ctx context.Context, guildID, kind, message string, now time.Time) {
	a.mu.Lock()
	list := append([]Activity{{Timestamp: now.UnixMilli(), Type: kind, Message: message}}, a.entries[guildID]...)
	if len(list) > a.retain {
		list = list[:a.retain]
	}
	a.entries[guildID] = list
	snapshot := make(map[string][]Activity, len(a.entries))
	for id, items := range a.entries {
		snapshot[id] = append([]Activity(nil), items...)
	}
	a.mu.Unlock()

	if err := a.backend.Save(ctx, activityStore, snapshot); err != nil {
		a.logger.Warn("persist activity", zap.String("guild_id", guildID), zap.Error(err))
	}
}

func (a *ActivityLog) List(guildID string) []Activity {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := append([]Activity(nil), a.entries[guildID]...)
	if out == nil {
		out = []Activity{}
	}
	return out
}
