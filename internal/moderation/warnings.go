package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"noctis-guard/internal/audit"
	"noctis-guard/internal/storage"
)

const WarningStore = "warnings"

type Warning struct {
	ID          string    `json:"id"`
	GuildID     string    `json:"guildId"`
	UserID      string    `json:"userId"`
	ModeratorID string    `json:"moderatorId"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Warnings struct {
	store *storage.Collection[Warning]
	audit *audit.Logger
	now   func() time.Time
}

func NewWarnings(backend storage.Backend, auditLogger *audit.Logger) *Warnings {
	return &Warnings{
		store: storage.NewCollection[Warning](backend, WarningStore),
		audit: auditLogger,
		now:   time.Now,
	}
}

func (w *Warnings) Load(ctx context.Context) error {
	_, err := w.store.Load(ctx)
	return err
}

// Add records a warning and returns the user's warning count.
func (w *Warnings) Add(ctx context.Context, guildID, userID, moderatorID, reason string) (int, error) {
	if guildID == "" || userID == "" {
		return 0, errors.Join(ErrInvalid, errors.New("guild and user are required"))
	}
	id, err := uuid.NewV7()
	if err != nil {
		return 0, fmt.Errorf("allocate id: %w", err)
	}
	warning := Warning{
		ID:          id.String(),
		GuildID:     guildID,
		UserID:      userID,
		ModeratorID: moderatorID,
		Reason:      reason,
		CreatedAt:   w.now().UTC(),
	}
	if err := w.store.Append(ctx, warning); err != nil {
		return 0, fmt.Errorf("persist warning: %w", err)
	}
	if w.audit != nil {
		w.audit.Log(ctx, audit.LevelWarn, guildID, userID, moderatorID, "warn", reason)
	}
	return len(w.List(guildID, userID)), nil
}

func (w *Warnings) List(guildID, userID string) []Warning {
	var out []Warning
	for _, warning := range w.store.Items() {
		if warning.GuildID == guildID && warning.UserID == userID {
			out = append(out, warning)
		}
	}
	return out
}

// Clear removes every warning for the user and returns how many were
// removed.
func (w *Warnings) Clear(ctx context.Context, guildID, userID, moderatorID string) (int, error) {
	removed := 0
	err := w.store.Update(ctx, func(items []Warning) []Warning {
		out := items[:0]
		for _, warning := range items {
			if warning.GuildID == guildID && warning.UserID == userID {
				removed++
				continue
			}
			out = append(out, warning)
		}
		return out
	})
	if err != nil {
		return 0, fmt.Errorf("persist warnings: %w", err)
	}
	if removed > 0 && w.audit != nil {
		w.audit.Log(ctx, audit.LevelInfo, guildID, userID, moderatorID, "clear_warnings", fmt.Sprintf("removed=%d", removed))
	}
	return removed, nil
}
