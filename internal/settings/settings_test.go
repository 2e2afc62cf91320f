package settings

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"noctis-guard/internal/storage"
)

func TestSetPluginsDerivesDisabled(t *testing.T) {
	backend, err := storage.NewFile(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	store := New(backend, zap.NewNop())
	ctx := context.Background()
	if err := store.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	g, err := store.SetPlugins(ctx, "g1", map[string]bool{"leveling": false, "giveaways": true, "welcome": false})
	if err != nil {
		t.Fatalf("set plugins: %v", err)
	}
	if len(g.Disabled) != 2 || g.Disabled[0] != "leveling" || g.Disabled[1] != "welcome" {
		t.Fatalf("unexpected disabled set %v", g.Disabled)
	}
	if store.IsEnabled("g1", "leveling") || !store.IsEnabled("g1", "giveaways") || !store.IsEnabled("g1", "unknown") {
		t.Fatalf("unexpected plugin state")
	}

	if _, err := store.SetPlugin(ctx, "g1", "leveling", true); err != nil {
		t.Fatalf("set plugin: %v", err)
	}

	reloaded := New(backend, zap.NewNop())
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.Get("g1").Disabled; len(got) != 1 || got[0] != "welcome" {
		t.Fatalf("expected persisted disabled set, got %v", got)
	}
}

func TestDefaultsAndXPRate(t *testing.T) {
	g := defaultGuild("g1")
	if !g.Automod.Spam || !g.Automod.Invites || !g.Automod.Profanity {
		t.Fatalf("automod should default on")
	}
	now := time.Unix(1_700_000_000, 0)
	if g.EffectiveXPRate(now) != 1 {
		t.Fatalf("default rate is 1")
	}
	g.XPRate = 2
	g.XPRateExpiresAt = now.Add(time.Hour).UnixMilli()
	if g.EffectiveXPRate(now) != 2 {
		t.Fatalf("boost should apply before expiry")
	}
	if g.EffectiveXPRate(now.Add(2*time.Hour)) != 1 {
		t.Fatalf("boost should lapse after expiry")
	}
}
