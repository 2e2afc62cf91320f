package audit

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"noctis-guard/internal/storage"
)

func TestLogPersistsAndNotifies(t *testing.T) {
	store, err := storage.NewFile(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	logger := NewLogger(store, zap.NewNop())
	base := time.Unix(1_700_000_000, 0)
	tick := 0
	logger.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	if err := logger.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	var notified []Case
	logger.SetNotifier(func(ctx context.Context, c Case) { notified = append(notified, c) })

	ctx := context.Background()
	logger.Log(ctx, LevelWarn, "g1", "u1", "mod", "warn", "spam")
	logger.Log(ctx, LevelCrit, "g1", "u2", "mod", "tempban", "raid")
	logger.Log(ctx, LevelInfo, "g2", "u1", "mod", "warn", "other guild")

	if len(notified) != 3 {
		t.Fatalf("expected three notifications, got %d", len(notified))
	}
	recent := logger.Recent("g1", "", 10)
	if len(recent) != 2 || recent[0].Action != "tempban" {
		t.Fatalf("expected newest first for g1, got %+v", recent)
	}
	if got := logger.Recent("g1", "u1", 10); len(got) != 1 {
		t.Fatalf("expected user filter, got %d", len(got))
	}

	reloaded := NewLogger(store, zap.NewNop())
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := len(reloaded.Recent("g1", "", 0)); got != 2 {
		t.Fatalf("expected persisted cases, got %d", got)
	}
}

func TestReportCountsByLevelSince(t *testing.T) {
	logger := NewLogger(nil, zap.NewNop())
	if got := logger.Report("g1", time.Time{}); got.Total != 0 {
		t.Fatalf("expected empty report without a store, got %+v", got)
	}

	store, err := storage.NewFile(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	logger = NewLogger(store, zap.NewNop())
	now := time.Unix(1_700_000_000, 0)
	logger.now = func() time.Time { return now }

	ctx := context.Background()
	logger.Log(ctx, LevelWarn, "g1", "u1", "mod", "warn", "old")
	now = now.Add(48 * time.Hour)
	logger.Log(ctx, LevelWarn, "g1", "u1", "mod", "warn", "spam")
	logger.Log(ctx, LevelCrit, "g1", "u2", "mod", "tempban", "raid")
	logger.Log(ctx, LevelInfo, "g2", "u3", "mod", "unban", "")

	report := logger.Report("g1", now.Add(-time.Hour))
	if report.Total != 2 || report.ByLevel[LevelWarn] != 1 || report.ByLevel[LevelCrit] != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}
