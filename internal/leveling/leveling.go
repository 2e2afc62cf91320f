package leveling

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"noctis-guard/internal/storage"
)

const StoreName = "levels"

type Member struct {
	UserID        string `json:"userId"`
	XP            int    `json:"xp"`
	Level         int    `json:"level"`
	LastMessageAt int64  `json:"lastMessageAt,omitempty"`
}

type Config struct {
	Cooldown time.Duration
	MinXP    int
	MaxXP    int
}

type Result struct {
	Gained  int
	Member  Member
	LevelUp bool
}

// Requirement is the XP needed to advance from level to level+1.
func Requirement(level int) int {
	return 5*level*level + 50*level + 100
}

type Engine struct {
	mu      sync.Mutex
	backend storage.Backend
	cfg     Config
	guilds  map[string]map[string]Member
	intn    func(n int) int
	logger  *zap.Logger
}

func New(backend storage.Backend, cfg Config, logger *zap.Logger) *Engine {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.MinXP <= 0 {
		cfg.MinXP = 8
	}
	if cfg.MaxXP < cfg.MinXP {
		cfg.MaxXP = cfg.MinXP
	}
	return &Engine{
		backend: backend,
		cfg:     cfg,
		guilds:  make(map[string]map[string]Member),
		intn:    rand.IntN,
		logger:  logger.Named("leveling"),
	}
}

func (e *Engine) Load(ctx context.Context) error {
	guilds := make(map[string]map[string]Member)
	if err := e.backend.Load(ctx, StoreName, &guilds); err != nil {
		return fmt.Errorf("load levels: %w", err)
	}
	e.mu.Lock()
	e.guilds = guilds
	e.mu.Unlock()
	return nil
}

// AddXP grants message XP scaled by rate unless the member is still on
// cooldown, in which case the zero Result is returned.
func (e *Engine) AddXP(ctx context.Context, guildID, userID string, rate float64, now time.Time) (Result, error) {
	e.mu.Lock()
	members := e.guildLocked(guildID)
	member := members[userID]
	member.UserID = userID
	if member.LastMessageAt > 0 && now.Sub(time.UnixMilli(member.LastMessageAt)) < e.cfg.Cooldown {
		e.mu.Unlock()
		return Result{Member: member}, nil
	}
	if rate <= 0 {
		rate = 1
	}
	gained := int(math.Round(float64(e.cfg.MinXP+e.intn(e.cfg.MaxXP-e.cfg.MinXP+1)) * rate))
	member.XP += gained
	member.LastMessageAt = now.UnixMilli()
	levelUp := false
	for member.XP >= Requirement(member.Level) {
		member.XP -= Requirement(member.Level)
		member.Level++
		levelUp = true
	}
	members[userID] = member
	snapshot := e.snapshotLocked()
	e.mu.Unlock()

	if err := e.backend.Save(ctx, StoreName, snapshot); err != nil {
		return Result{}, fmt.Errorf("persist levels: %w", err)
	}
	if levelUp {
		e.logger.Info("level up", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Int("level", member.Level))
	}
	return Result{Gained: gained, Member: member, LevelUp: levelUp}, nil
}

func (e *Engine) Member(guildID, userID string) Member {
	e.mu.Lock()
	defer e.mu.Unlock()
	member := e.guilds[guildID][userID]
	member.UserID = userID
	return member
}

// Leaderboard orders by level, then XP, then user id.
func (e *Engine) Leaderboard(guildID string, limit int) []Member {
	e.mu.Lock()
	out := make([]Member, 0, len(e.guilds[guildID]))
	for _, member := range e.guilds[guildID] {
		out = append(out, member)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		if out[i].XP != out[j].XP {
			return out[i].XP > out[j].XP
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Rank is the 1-based leaderboard position, or 0 for unknown members.
func (e *Engine) Rank(guildID, userID string) int {
	for i, member := range e.Leaderboard(guildID, 0) {
		if member.UserID == userID {
			return i + 1
		}
	}
	return 0
}

func (e *Engine) SetLevel(ctx context.Context, guildID, userID string, level int) (Member, error) {
	if level < 0 {
		return Member{}, fmt.Errorf("level must not be negative")
	}
	e.mu.Lock()
	members := e.guildLocked(guildID)
	member := members[userID]
	member.UserID = userID
	member.Level = level
	member.XP = 0
	members[userID] = member
	snapshot := e.snapshotLocked()
	e.mu.Unlock()

	if err := e.backend.Save(ctx, StoreName, snapshot); err != nil {
		return Member{}, fmt.Errorf("persist levels: %w", err)
	}
	return member, nil
}

func (e *Engine) guildLocked(guildID string) map[string]Member {
	members := e.guilds[guildID]
	if members == nil {
		members = make(map[string]Member)
		e.guilds[guildID] = members
	}
	return members
}

func (e *Engine) snapshotLocked() map[string]map[string]Member {
	out := make(map[string]map[string]Member, len(e.guilds))
	for guildID, members := range e.guilds {
		copied := make(map[string]Member, len(members))
		for id, m := range members {
			copied[id] = m
		}
		out[guildID] = copied
	}
	return out
}
