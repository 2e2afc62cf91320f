package commandsync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"noctis-guard/internal/clock"
	"noctis-guard/internal/gateway"
	"noctis-guard/internal/storage"
	"noctis-guard/internal/watch"
)

const StoreName = "pending-guild-commands"

// Entry is the desired, not yet confirmed command state of one guild.
type Entry struct {
	DisabledCommands []string `json:"disabledCommands"`
	Attempts         int      `json:"attempts"`
	NextAttemptAt    int64    `json:"nextAttemptAt,omitempty"`
	Timestamp        int64    `json:"timestamp"`
}

type Config struct {
	MaxAttempts     int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	InterGuildDelay time.Duration
	StartupDelay    time.Duration
	WatchDebounce   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:     5,
		BaseBackoff:     30 * time.Second,
		MaxBackoff:      30 * time.Minute,
		InterGuildDelay: 2 * time.Second,
		StartupDelay:    5 * time.Second,
		WatchDebounce:   150 * time.Millisecond,
	}
}

// Report summarises one drain.
type Report struct {
	Applied     []string
	Failed      []string
	RateLimited []string
	Skipped     []string
}

type Queue struct {
	mu      sync.Mutex
	backend storage.Backend
	gateway gateway.Client
	defs    []Definition
	clock   clock.Clock
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
	running atomic.Bool

	baseMu  sync.Mutex
	baseCtx context.Context
}

func New(backend storage.Backend, gw gateway.Client, defs []Definition, cfg Config, clk clock.Clock, logger *zap.Logger) *Queue {
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultConfig().BaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	limit := rate.Inf
	if cfg.InterGuildDelay > 0 {
		limit = rate.Every(cfg.InterGuildDelay)
	}
	return &Queue{
		backend: backend,
		gateway: gw,
		defs:    defs,
		clock:   clk,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("commandsync"),
		baseCtx: context.Background(),
	}
}

// QueueUpdate records the latest desired state for a guild. A changed
// set starts over with zero attempts and no gate; re-queueing the set
// already pending leaves its attempts, gate and place in line alone.
func (q *Queue) QueueUpdate(ctx context.Context, guildID string, disabled []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending, err := q.load(ctx)
	if err != nil {
		return err
	}
	names := normalize(disabled)
	if cur, ok := pending[guildID]; ok && sameNames(normalize(cur.DisabledCommands), names) {
		q.logger.Debug("command update already queued", zap.String("guild_id", guildID), zap.Int("attempts", cur.Attempts))
		return nil
	}
	pending[guildID] = Entry{
		DisabledCommands: names,
		Attempts:         0,
		Timestamp:        q.clock.Now().UnixMilli(),
	}
	if err := q.backend.Save(ctx, StoreName, pending); err != nil {
		return err
	}
	q.logger.Info("command update queued", zap.String("guild_id", guildID), zap.Strings("disabled", names))
	return nil
}

// Pending returns a snapshot of the stored queue.
func (q *Queue) Pending(ctx context.Context) (map[string]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// RunPending drains eligible guilds once. A call that overlaps a running
// drain returns immediately with an empty report.
func (q *Queue) RunPending(ctx context.Context) Report {
	var report Report
	if !q.running.CompareAndSwap(false, true) {
		q.logger.Debug("drain already running")
		return report
	}
	defer q.running.Store(false)

	q.mu.Lock()
	pending, err := q.load(ctx)
	q.mu.Unlock()
	if err != nil {
		q.logger.Warn("load pending command updates", zap.Error(err))
		return report
	}

	outcomes := make(map[string]Entry)
	for _, guildID := range enqueueOrder(pending) {
		entry := pending[guildID]
		now := q.clock.Now()
		if entry.Attempts >= q.cfg.MaxAttempts {
			report.Skipped = append(report.Skipped, guildID)
			continue
		}
		if entry.NextAttemptAt > now.UnixMilli() {
			report.Skipped = append(report.Skipped, guildID)
			continue
		}
		if err := q.limiter.Wait(ctx); err != nil {
			q.logger.Info("drain interrupted", zap.Error(err))
			break
		}

		manifest := ComputeManifest(q.defs, entry.DisabledCommands)
		err := q.gateway.SetGuildCommands(ctx, guildID, manifest)
		now = q.clock.Now()
		next := entry
		var rateErr *gateway.RateLimitError
		switch {
		case err == nil:
			next.Attempts = -1
			report.Applied = append(report.Applied, guildID)
			q.logger.Info("guild commands applied", zap.String("guild_id", guildID), zap.Int("commands", len(manifest)))
		case errors.As(err, &rateErr) && rateErr.RetryAfter > 0:
			next.Attempts++
			next.NextAttemptAt = now.Add(rateErr.RetryAfter).UnixMilli()
			report.RateLimited = append(report.RateLimited, guildID)
			q.logger.Warn("guild commands rate limited",
				zap.String("guild_id", guildID),
				zap.Int("attempts", next.Attempts),
				zap.Duration("retry_after", rateErr.RetryAfter))
		default:
			next.Attempts++
			delay := q.backoff(next.Attempts)
			next.NextAttemptAt = now.Add(delay).UnixMilli()
			report.Failed = append(report.Failed, guildID)
			q.logger.Warn("guild commands push failed",
				zap.String("guild_id", guildID),
				zap.Int("attempts", next.Attempts),
				zap.Duration("backoff", delay),
				zap.Error(err))
		}
		outcomes[guildID] = next
	}

	if len(outcomes) == 0 {
		return report
	}
	if err := q.commit(ctx, pending, outcomes); err != nil {
		q.logger.Error("persist command queue", zap.Error(err))
	}
	return report
}

// commit re-reads the queue so that entries re-queued during the drain
// keep their newer desired state.
func (q *Queue) commit(ctx context.Context, seen, outcomes map[string]Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.load(ctx)
	if err != nil {
		return err
	}
	for guildID, next := range outcomes {
		cur, ok := current[guildID]
		if !ok || cur.Timestamp != seen[guildID].Timestamp || !sameNames(cur.DisabledCommands, seen[guildID].DisabledCommands) {
			continue
		}
		if next.Attempts < 0 {
			delete(current, guildID)
			continue
		}
		current[guildID] = next
	}
	return q.backend.Save(ctx, StoreName, current)
}

// Trigger starts a drain in the background.
func (q *Queue) Trigger() {
	q.baseMu.Lock()
	ctx := q.baseCtx
	q.baseMu.Unlock()
	go q.RunPending(ctx)
}

// Start schedules the deferred startup drain and, when watchPath is not
// empty, drains again whenever that file changes. It returns at once.
func (q *Queue) Start(ctx context.Context, watchPath string) {
	q.baseMu.Lock()
	q.baseCtx = ctx
	q.baseMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.cfg.StartupDelay):
		}
		q.RunPending(ctx)
	}()

	if watchPath == "" {
		return
	}
	watcher := watch.NewFile(watchPath, q.cfg.WatchDebounce, q.Trigger, q.logger)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			q.logger.Warn("pending command watcher stopped", zap.Error(err))
		}
	}()
}

func (q *Queue) backoff(attempts int) time.Duration {
	b := retry.WithCappedDuration(q.cfg.MaxBackoff, retry.NewExponential(q.cfg.BaseBackoff))
	var delay time.Duration
	for i := 0; i < attempts; i++ {
		delay, _ = b.Next()
	}
	return delay
}

func (q *Queue) load(ctx context.Context) (map[string]Entry, error) {
	pending := make(map[string]Entry)
	if err := q.backend.Load(ctx, StoreName, &pending); err != nil {
		return nil, err
	}
	return pending, nil
}

func enqueueOrder(pending map[string]Entry) []string {
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := pending[ids[i]], pending[ids[j]]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return ids[i] < ids[j]
	})
	return ids
}

func normalize(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
