package audit

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"noctis-guard/internal/storage"
)

const StoreName = "modlogs"

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

// Case is one moderation log entry.
type Case struct {
	ID        string    `json:"id"`
	GuildID   string    `json:"guildId"`
	UserID    string    `json:"userId,omitempty"`
	ActorID   string    `json:"actorId,omitempty"`
	Level     string    `json:"level"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Logger struct {
	store  *storage.Collection[Case]
	logger *zap.Logger
	notify func(context.Context, Case)
	now    func() time.Time
}

func NewLogger(backend storage.Backend, logger *zap.Logger) *Logger {
	l := &Logger{logger: logger.Named("audit"), now: time.Now}
	if backend != nil {
		l.store = storage.NewCollection[Case](backend, StoreName)
	}
	return l
}

func (l *Logger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	_, err := l.store.Load(ctx)
	return err
}

func (l *Logger) SetNotifier(notify func(context.Context, Case)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, actorID, action, details string) Case {
	entry := Case{
		GuildID:   guildID,
		UserID:    userID,
		ActorID:   actorID,
		Level:     level,
		Action:    action,
		Details:   details,
		CreatedAt: l.now().UTC(),
	}
	if id, err := uuid.NewV7(); err == nil {
		entry.ID = id.String()
	}
	if l.store != nil {
		if err := l.store.Append(ctx, entry); err != nil {
			l.logger.Warn("persist case", zap.Error(err))
		}
	}
	if l.notify != nil {
		l.notify(ctx, entry)
	}
	l.logger.Info("case",
		zap.String("level", level),
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("actor_id", actorID),
		zap.String("action", action),
		zap.String("details", details))
	return entry
}

// Recent returns up to limit cases for a guild, newest first. A
// non-empty userID narrows the result to that user.
func (l *Logger) Recent(guildID, userID string, limit int) []Case {
	if l.store == nil {
		return nil
	}
	var out []Case
	for _, c := range l.store.Items() {
		if c.GuildID != guildID || (userID != "" && c.UserID != userID) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type Report struct {
	Total   int
	ByLevel map[string]int
}

// Report counts a guild's cases created at or after since.
func (l *Logger) Report(guildID string, since time.Time) Report {
	report := Report{ByLevel: make(map[string]int)}
	if l.store == nil {
		return report
	}
	for _, c := range l.store.Items() {
		if c.GuildID != guildID || c.CreatedAt.Before(since) {
			continue
		}
		report.Total++
		report.ByLevel[c.Level]++
	}
	return report
}
