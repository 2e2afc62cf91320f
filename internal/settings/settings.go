package settings

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"noctis-guard/internal/storage"
)

const StoreName = "guild-settings"

type AutomodSettings struct {
	Profanity bool `json:"profanity"`
	Invites   bool `json:"invites"`
	Spam      bool `json:"spam"`
}

type Greeting struct {
	ChannelID string `json:"channelId,omitempty"`
	Message   string `json:"message,omitempty"`
}

type Guild struct {
	GuildID         string          `json:"guildId"`
	LogChannelID    string          `json:"logChannelId,omitempty"`
	LevelChannelID  string          `json:"levelChannelId,omitempty"`
	XPRate          float64         `json:"xpRate,omitempty"`
	XPRateExpiresAt int64           `json:"xpRateExpiresAt,omitempty"`
	Automod         AutomodSettings `json:"automod"`
	Plugins         map[string]bool `json:"plugins,omitempty"`
	Disabled        []string        `json:"disabledCommands,omitempty"`
	Welcome         Greeting        `json:"welcome"`
	Bye             Greeting        `json:"bye"`
}

func defaultGuild(guildID string) Guild {
	return Guild{
		GuildID: guildID,
		Automod: AutomodSettings{Profanity: true, Invites: true, Spam: true},
		Plugins: map[string]bool{},
	}
}

// EffectiveXPRate returns the boosted rate while it is active, else 1.
func (g Guild) EffectiveXPRate(now time.Time) float64 {
	if g.XPRate <= 0 {
		return 1
	}
	if g.XPRateExpiresAt > 0 && now.UnixMilli() >= g.XPRateExpiresAt {
		return 1
	}
	return g.XPRate
}

// PluginEnabled treats unknown plugins as enabled.
func (g Guild) PluginEnabled(name string) bool {
	enabled, ok := g.Plugins[name]
	return !ok || enabled
}

type Store struct {
	mu      sync.Mutex
	backend storage.Backend
	guilds  map[string]Guild
	logger  *zap.Logger
}

func New(backend storage.Backend, logger *zap.Logger) *Store {
	return &Store{backend: backend, guilds: make(map[string]Guild), logger: logger.Named("settings")}
}

func (s *Store) Load(ctx context.Context) error {
	guilds := make(map[string]Guild)
	if err := s.backend.Load(ctx, StoreName, &guilds); err != nil {
		return fmt.Errorf("load guild settings: %w", err)
	}
	s.mu.Lock()
	s.guilds = guilds
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(guildID string) Guild {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guilds[guildID]
	if !ok {
		return defaultGuild(guildID)
	}
	return clone(g)
}

func (s *Store) All() []Guild {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Guild, 0, len(s.guilds))
	for _, g := range s.guilds {
		out = append(out, clone(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out
}

// Update applies fn to the guild's settings and persists the document.
func (s *Store) Update(ctx context.Context, guildID string, fn func(*Guild)) (Guild, error) {
	s.mu.Lock()
	g, ok := s.guilds[guildID]
	if !ok {
		g = defaultGuild(guildID)
	} else {
		g = clone(g)
	}
	fn(&g)
	g.GuildID = guildID
	s.guilds[guildID] = g
	snapshot := make(map[string]Guild, len(s.guilds))
	for id, v := range s.guilds {
		snapshot[id] = v
	}
	s.mu.Unlock()

	if err := s.backend.Save(ctx, StoreName, snapshot); err != nil {
		return Guild{}, fmt.Errorf("persist guild settings: %w", err)
	}
	return clone(g), nil
}

// SetPlugins merges a plugin toggle map and derives the disabled set.
func (s *Store) SetPlugins(ctx context.Context, guildID string, state map[string]bool) (Guild, error) {
	return s.Update(ctx, guildID, func(g *Guild) {
		if g.Plugins == nil {
			g.Plugins = map[string]bool{}
		}
		for name, enabled := range state {
			g.Plugins[name] = enabled
		}
		g.Disabled = DisabledFrom(g.Plugins)
	})
}

func (s *Store) SetPlugin(ctx context.Context, guildID, name string, enabled bool) (Guild, error) {
	return s.SetPlugins(ctx, guildID, map[string]bool{name: enabled})
}

func (s *Store) IsEnabled(guildID, name string) bool {
	return s.Get(guildID).PluginEnabled(name)
}

func DisabledFrom(plugins map[string]bool) []string {
	var out []string
	for name, enabled := range plugins {
		if !enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func clone(g Guild) Guild {
	plugins := make(map[string]bool, len(g.Plugins))
	for k, v := range g.Plugins {
		plugins[k] = v
	}
	g.Plugins = plugins
	g.Disabled = append([]string(nil), g.Disabled...)
	return g
}
