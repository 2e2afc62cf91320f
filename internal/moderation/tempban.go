package moderation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"noctis-guard/internal/audit"
	"noctis-guard/internal/clock"
	"noctis-guard/internal/gateway"
	"noctis-guard/internal/scheduler"
	"noctis-guard/internal/storage"
)

const TempbanStore = "tempbans"

const unbanReason = "Temporary ban expired"

var (
	ErrInvalid   = errors.New("moderation: invalid parameters")
	ErrNotFound  = errors.New("moderation: not found")
	ErrBanFailed = errors.New("moderation: ban failed")
)

type Tempban struct {
	ID           string `json:"id"`
	GuildID      string `json:"guildId"`
	UserID       string `json:"userId"`
	EndTimestamp int64  `json:"endTimestamp"`
	ModeratorID  string `json:"moderatorId"`
	Reason       string `json:"reason,omitempty"`
}

func (t Tempban) EndsAt() time.Time {
	return time.UnixMilli(t.EndTimestamp)
}

type TempbanParams struct {
	GuildID     string
	UserID      string
	Duration    time.Duration
	ModeratorID string
	Reason      string
}

// Tempbans owns the tempban store. A record exists while the ban is
// believed active.
type Tempbans struct {
	mu         sync.Mutex
	store      *storage.Collection[Tempban]
	gateway    gateway.Client
	clock      clock.Clock
	sched      *scheduler.Scheduler
	audit      *audit.Logger
	logger     *zap.Logger
	completing map[string]bool
}

func NewTempbans(backend storage.Backend, gw gateway.Client, auditLogger *audit.Logger, clk clock.Clock, logger *zap.Logger) *Tempbans {
	if clk == nil {
		clk = clock.Real()
	}
	t := &Tempbans{
		store:      storage.NewCollection[Tempban](backend, TempbanStore),
		gateway:    gw,
		clock:      clk,
		audit:      auditLogger,
		logger:     logger.Named("tempban"),
		completing: make(map[string]bool),
	}
	t.sched = scheduler.New(clk, t.complete, t.logger)
	return t
}

// Start lifts bans that expired while offline and arms timers for the rest.
func (t *Tempbans) Start(ctx context.Context) error {
	items, err := t.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load tempbans: %w", err)
	}
	now := t.clock.Now()
	entries := make([]scheduler.Entry, 0, len(items))
	for _, ban := range items {
		if !ban.EndsAt().After(now) {
			t.logger.Warn("tempban expired while offline", zap.String("id", ban.ID), zap.String("guild_id", ban.GuildID), zap.String("user_id", ban.UserID))
		}
		entries = append(entries, scheduler.Entry{ID: ban.ID, Deadline: ban.EndsAt()})
	}
	t.sched.RebuildAll(ctx, entries)
	return nil
}

func (t *Tempbans) Stop() {
	t.sched.Stop()
}

// Create bans first and persists second. A failed ban leaves nothing
// behind. A failed write after a successful ban still schedules the
// unban for this process and reports the write error.
func (t *Tempbans) Create(ctx context.Context, p TempbanParams) (Tempban, error) {
	switch {
	case p.GuildID == "" || p.UserID == "":
		return Tempban{}, errors.Join(ErrInvalid, errors.New("guild and user are required"))
	case p.Duration <= 0:
		return Tempban{}, errors.Join(ErrInvalid, errors.New("duration must be positive"))
	}

	if err := t.gateway.Ban(ctx, p.GuildID, p.UserID, p.Reason); err != nil {
		return Tempban{}, fmt.Errorf("%w: %w", ErrBanFailed, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Tempban{}, fmt.Errorf("allocate id: %w", err)
	}
	ban := Tempban{
		ID:           id.String(),
		GuildID:      p.GuildID,
		UserID:       p.UserID,
		EndTimestamp: t.clock.Now().Add(p.Duration).UnixMilli(),
		ModeratorID:  p.ModeratorID,
		Reason:       p.Reason,
	}

	// kept in memory even when the write fails
	persistErr := t.store.Update(ctx, func(items []Tempban) []Tempban {
		return append(items, ban)
	})
	if persistErr != nil {
		t.logger.Error("tempban applied but not persisted",
			zap.String("id", ban.ID),
			zap.String("guild_id", ban.GuildID),
			zap.String("user_id", ban.UserID),
			zap.String("moderator_id", ban.ModeratorID),
			zap.Time("ends_at", ban.EndsAt()),
			zap.Error(persistErr))
	}
	t.sched.Schedule(ctx, scheduler.Entry{ID: ban.ID, Deadline: ban.EndsAt()})
	if t.audit != nil {
		t.audit.Log(ctx, audit.LevelWarn, ban.GuildID, ban.UserID, ban.ModeratorID, "tempban",
			fmt.Sprintf("until=%s reason=%s", ban.EndsAt().UTC().Format(time.RFC3339), ban.Reason))
	}
	if persistErr != nil {
		return ban, fmt.Errorf("persist tempban: %w", persistErr)
	}
	return ban, nil
}

func (t *Tempbans) List(guildID string) []Tempban {
	var out []Tempban
	for _, ban := range t.store.Items() {
		if guildID == "" || ban.GuildID == guildID {
			out = append(out, ban)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EndTimestamp < out[j].EndTimestamp })
	return out
}

func (t *Tempbans) Get(id string) (Tempban, bool) {
	for _, ban := range t.store.Items() {
		if ban.ID == id {
			return ban, true
		}
	}
	return Tempban{}, false
}

// Revoke lifts a tempban before its deadline.
func (t *Tempbans) Revoke(ctx context.Context, id string) error {
	if _, ok := t.Get(id); !ok {
		return ErrNotFound
	}
	t.sched.Cancel(id)
	t.complete(ctx, id)
	return nil
}

func (t *Tempbans) complete(ctx context.Context, id string) {
	t.mu.Lock()
	ban, ok := t.Get(id)
	if !ok || t.completing[id] {
		t.mu.Unlock()
		return
	}
	t.completing[id] = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.completing, id)
		t.mu.Unlock()
	}()

	if err := t.gateway.Unban(ctx, ban.GuildID, ban.UserID, unbanReason); err != nil {
		t.logger.Error("unban failed", zap.String("id", id), zap.String("guild_id", ban.GuildID), zap.String("user_id", ban.UserID), zap.Error(err))
	} else if t.audit != nil {
		t.audit.Log(ctx, audit.LevelInfo, ban.GuildID, ban.UserID, "", "unban", unbanReason)
	}

	if err := t.store.Update(ctx, func(items []Tempban) []Tempban {
		out := items[:0]
		for _, item := range items {
			if item.ID != id {
				out = append(out, item)
			}
		}
		return out
	}); err != nil {
		t.logger.Error("delete tempban record", zap.String("id", id), zap.Error(err))
	}
}
