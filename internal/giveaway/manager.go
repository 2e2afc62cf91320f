package giveaway

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"noctis-guard/internal/clock"
	"noctis-guard/internal/gateway"
	"noctis-guard/internal/scheduler"
	"noctis-guard/internal/storage"
	"noctis-guard/internal/watch"
)

const (
	StoreName    = "giveaways"
	defaultsName = "giveaway-defaults"
)

type Manager struct {
	mu          sync.Mutex
	reconcileMu sync.Mutex
	store       *storage.Collection[Giveaway]
	backend     storage.Backend
	gateway     gateway.Client
	clock       clock.Clock
	sched       *scheduler.Scheduler
	logger      *zap.Logger
	emoji       string
	intn        func(n int) int
	posting     map[string]bool
	completing  map[string]bool
	defaults    map[string]Defaults
}

type Option func(*Manager)

func WithClock(clk clock.Clock) Option {
	return func(m *Manager) { m.clock = clk }
}

func WithEmoji(emoji string) Option {
	return func(m *Manager) {
		if emoji != "" {
			m.emoji = emoji
		}
	}
}

// WithRand replaces the winner draw source; intn must return [0, n).
func WithRand(intn func(n int) int) Option {
	return func(m *Manager) { m.intn = intn }
}

func New(backend storage.Backend, gw gateway.Client, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:      storage.NewCollection[Giveaway](backend, StoreName),
		backend:    backend,
		gateway:    gw,
		clock:      clock.Real(),
		logger:     logger.Named("giveaway"),
		emoji:      "🎉",
		intn:       rand.IntN,
		posting:    make(map[string]bool),
		completing: make(map[string]bool),
		defaults:   make(map[string]Defaults),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.sched = scheduler.New(m.clock, m.complete, m.logger)
	return m
}

// Start loads persisted giveaways and arms a timer for every open one.
// Giveaways whose deadline passed while offline complete immediately.
func (m *Manager) Start(ctx context.Context) error {
	items, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load giveaways: %w", err)
	}
	if err := m.backend.Load(ctx, defaultsName, &m.defaults); err != nil {
		m.logger.Warn("load giveaway defaults", zap.Error(err))
	}
	now := m.clock.Now()
	for _, g := range items {
		if !g.Ended && !g.EndsAt().After(now) {
			m.logger.Warn("giveaway deadline passed while offline", zap.String("id", g.ID), zap.String("guild_id", g.GuildID))
		}
	}
	m.sched.RebuildAll(ctx, entries(items))
	return nil
}

func (m *Manager) Stop() {
	m.sched.Stop()
}

// Watch reconciles whenever the giveaway document at path changes on
// disk. It blocks until ctx is done.
func (m *Manager) Watch(ctx context.Context, path string, debounce time.Duration) error {
	watcher := watch.NewFile(path, debounce, func() {
		if err := m.Reconcile(ctx); err != nil {
			m.logger.Warn("reconcile giveaways", zap.Error(err))
		}
	}, m.logger)
	return watcher.Run(ctx)
}

func (m *Manager) Create(ctx context.Context, p Params) (Giveaway, error) {
	if err := p.validate(); err != nil {
		return Giveaway{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Giveaway{}, fmt.Errorf("allocate id: %w", err)
	}
	g := Giveaway{
		ID:           id.String(),
		GuildID:      p.GuildID,
		ChannelID:    p.ChannelID,
		Prize:        p.Prize,
		EndTimestamp: m.clock.Now().Add(p.Duration).UnixMilli(),
		WinnerCount:  p.WinnerCount,
		HostID:       p.HostID,
		RequireRole:  p.RequireRole,
		Winners:      []string{},
	}
	if err := m.store.Append(ctx, g); err != nil {
		return Giveaway{}, fmt.Errorf("persist giveaway: %w", err)
	}
	m.logger.Info("giveaway created", zap.String("id", g.ID), zap.String("guild_id", g.GuildID), zap.String("prize", g.Prize))

	m.post(ctx, g.ID)
	m.sched.Schedule(ctx, scheduler.Entry{ID: g.ID, Deadline: g.EndsAt()})

	if current, ok := m.Get(g.ID); ok {
		return current, nil
	}
	return g, nil
}

// End completes a giveaway now. Ending an already ended giveaway is a
// no-op that returns the stored record.
func (m *Manager) End(ctx context.Context, id string) (Giveaway, error) {
	if _, ok := m.Get(id); !ok {
		return Giveaway{}, ErrNotFound
	}
	m.sched.Cancel(id)
	m.complete(ctx, id)
	g, _ := m.Get(id)
	return g, nil
}

// Reroll redraws winners from the current reactions. It does not look
// at or change the ended flag.
func (m *Manager) Reroll(ctx context.Context, id string) ([]string, error) {
	g, ok := m.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if g.MessageID == "" {
		return nil, ErrNotPosted
	}
	entrants, err := m.gateway.ReactionUsers(ctx, g.ChannelID, g.MessageID, m.emoji)
	if err != nil {
		return nil, fmt.Errorf("fetch reactions for %s: %w", id, err)
	}
	winners := m.draw(m.eligible(ctx, g, entrants), g.WinnerCount)

	if err := m.update(ctx, id, func(stored *Giveaway) { stored.Winners = winners }); err != nil {
		m.logger.Error("persist reroll", zap.String("id", id), zap.Error(err))
	}
	g.Winners = winners
	if _, err := m.gateway.SendMessage(ctx, g.ChannelID, rerolled(g, m.emoji)); err != nil {
		m.logger.Warn("post reroll result", zap.String("id", id), zap.Error(err))
	}
	m.notifyWinners(ctx, g)
	m.logger.Info("giveaway rerolled", zap.String("id", id), zap.Strings("winners", winners))
	return winners, nil
}

func (m *Manager) Get(id string) (Giveaway, bool) {
	for _, g := range m.store.Items() {
		if g.ID == id {
			return g, true
		}
	}
	return Giveaway{}, false
}

func (m *Manager) ListForGuild(guildID string) []Giveaway {
	var out []Giveaway
	for _, g := range m.store.Items() {
		if g.GuildID == guildID {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EndTimestamp < out[j].EndTimestamp })
	return out
}

func (m *Manager) Defaults(guildID string) Defaults {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaults[guildID]
}

func (m *Manager) SetDefaults(ctx context.Context, guildID string, d Defaults) error {
	m.mu.Lock()
	m.defaults[guildID] = d
	snapshot := make(map[string]Defaults, len(m.defaults))
	for k, v := range m.defaults {
		snapshot[k] = v
	}
	m.mu.Unlock()
	return m.backend.Save(ctx, defaultsName, snapshot)
}

// Reconcile merges records written by another process, posts open
// giveaways that have no announcement yet and arms missing timers.
// Records created after the document was read are kept.
func (m *Manager) Reconcile(ctx context.Context) error {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	known := make(map[string]bool)
	for _, g := range m.store.Items() {
		known[g.ID] = true
	}
	stored, err := m.store.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("reload giveaways: %w", err)
	}

	var merged []Giveaway
	var removed []string
	err = m.store.UpdateIf(ctx, func(memory []Giveaway) ([]Giveaway, bool) {
		out, gone, changed := merge(memory, stored, known)
		merged = append([]Giveaway(nil), out...)
		removed = gone
		return out, changed
	})
	for _, id := range removed {
		if m.sched.Cancel(id) {
			m.logger.Info("giveaway removed externally", zap.String("id", id))
		}
	}
	if err != nil {
		return fmt.Errorf("persist merged giveaways: %w", err)
	}

	for _, g := range merged {
		if g.Ended {
			continue
		}
		if g.MessageID == "" {
			m.post(ctx, g.ID)
		}
		m.sched.Schedule(ctx, scheduler.Entry{ID: g.ID, Deadline: g.EndsAt()})
	}
	return nil
}

// post announces a giveaway at most once at a time. The record is
// skipped when it already has a message or is ended.
func (m *Manager) post(ctx context.Context, id string) {
	m.mu.Lock()
	g, ok := m.Get(id)
	if !ok || g.Ended || g.MessageID != "" || m.posting[id] {
		m.mu.Unlock()
		return
	}
	m.posting[id] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.posting, id)
		m.mu.Unlock()
	}()

	messageID, err := m.gateway.SendMessage(ctx, g.ChannelID, announcement(g, m.emoji))
	if err != nil {
		m.logger.Warn("post giveaway announcement", zap.String("id", id), zap.String("channel_id", g.ChannelID), zap.Error(err))
		return
	}
	if err := m.gateway.AddReaction(ctx, g.ChannelID, messageID, m.emoji); err != nil {
		m.logger.Warn("add giveaway reaction", zap.String("id", id), zap.Error(err))
	}
	if err := m.update(ctx, id, func(stored *Giveaway) { stored.MessageID = messageID }); err != nil {
		m.logger.Error("persist giveaway message id", zap.String("id", id), zap.String("message_id", messageID), zap.Error(err))
	}
}

func (m *Manager) complete(ctx context.Context, id string) {
	m.mu.Lock()
	g, ok := m.Get(id)
	if !ok || g.Ended || m.completing[id] {
		m.mu.Unlock()
		return
	}
	m.completing[id] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.completing, id)
		m.mu.Unlock()
	}()

	var entrants []gateway.User
	if g.MessageID != "" {
		users, err := m.gateway.ReactionUsers(ctx, g.ChannelID, g.MessageID, m.emoji)
		if err != nil {
			m.logger.Warn("fetch giveaway reactions", zap.String("id", id), zap.Error(err))
		}
		entrants = users
	}
	winners := m.draw(m.eligible(ctx, g, entrants), g.WinnerCount)

	if err := m.update(ctx, id, func(stored *Giveaway) {
		stored.Ended = true
		stored.Winners = winners
	}); err != nil {
		m.logger.Error("persist giveaway end", zap.String("id", id), zap.Error(err))
	}
	g.Ended = true
	g.Winners = winners
	m.logger.Info("giveaway ended", zap.String("id", id), zap.String("guild_id", g.GuildID), zap.Strings("winners", winners))

	if _, err := m.gateway.SendMessage(ctx, g.ChannelID, results(g, m.emoji)); err != nil {
		m.logger.Warn("post giveaway results", zap.String("id", id), zap.Error(err))
	}
	m.notifyWinners(ctx, g)
}

// eligible drops bots, duplicates and, when a role is required, users
// who do not currently hold it.
func (m *Manager) eligible(ctx context.Context, g Giveaway, entrants []gateway.User) []string {
	seen := make(map[string]bool, len(entrants))
	var out []string
	for _, user := range entrants {
		if user.Bot || seen[user.ID] {
			continue
		}
		seen[user.ID] = true
		if g.RequireRole != "" {
			has, err := m.gateway.HasRole(ctx, g.GuildID, user.ID, g.RequireRole)
			if err != nil {
				m.logger.Debug("role check failed", zap.String("id", g.ID), zap.String("user_id", user.ID), zap.Error(err))
				continue
			}
			if !has {
				continue
			}
		}
		out = append(out, user.ID)
	}
	return out
}

// draw picks up to count ids uniformly at random without replacement.
func (m *Manager) draw(pool []string, count int) []string {
	pool = append([]string(nil), pool...)
	winners := make([]string, 0, count)
	for len(winners) < count && len(pool) > 0 {
		i := m.intn(len(pool))
		winners = append(winners, pool[i])
		last := len(pool) - 1
		pool[i] = pool[last]
		pool = pool[:last]
	}
	return winners
}

func (m *Manager) notifyWinners(ctx context.Context, g Giveaway) {
	for _, winner := range g.Winners {
		if err := m.gateway.SendDM(ctx, winner, winnerDM(g, m.emoji)); err != nil {
			m.logger.Debug("winner dm failed", zap.String("id", g.ID), zap.String("user_id", winner), zap.Error(err))
		}
	}
}

func (m *Manager) update(ctx context.Context, id string, fn func(*Giveaway)) error {
	return m.store.Update(ctx, func(items []Giveaway) []Giveaway {
		for i := range items {
			if items[i].ID == id {
				fn(&items[i])
			}
		}
		return items
	})
}

func entries(items []Giveaway) []scheduler.Entry {
	out := make([]scheduler.Entry, 0, len(items))
	for _, g := range items {
		out = append(out, scheduler.Entry{ID: g.ID, Deadline: g.EndsAt(), Done: g.Ended})
	}
	return out
}

// merge takes the stored records as the base and keeps monotonic
// progress (message id, ended) known only in memory. A record missing
// from stored was removed externally when it is in known; otherwise it
// was created after stored was read and stays. changed reports whether
// the result differs from stored.
func merge(memory, stored []Giveaway, known map[string]bool) (out []Giveaway, removed []string, changed bool) {
	byID := make(map[string]Giveaway, len(memory))
	for _, g := range memory {
		byID[g.ID] = g
	}
	inStored := make(map[string]bool, len(stored))
	out = make([]Giveaway, 0, len(stored))
	for _, g := range stored {
		inStored[g.ID] = true
		if local, ok := byID[g.ID]; ok {
			if g.MessageID == "" && local.MessageID != "" {
				g.MessageID = local.MessageID
				changed = true
			}
			if !g.Ended && local.Ended {
				g.Ended = true
				g.Winners = local.Winners
				changed = true
			}
		}
		if g.Winners == nil {
			g.Winners = []string{}
		}
		out = append(out, g)
	}
	for _, g := range memory {
		if inStored[g.ID] {
			continue
		}
		if known[g.ID] {
			removed = append(removed, g.ID)
			continue
		}
		out = append(out, g)
		changed = true
	}
	return out, removed, changed
}
