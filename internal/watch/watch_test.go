package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestFileDebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pending-guild-commands.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var calls atomic.Int32
	fired := make(chan struct{}, 8)
	w := NewFile(path, 50*time.Millisecond, func() {
		calls.Add(1)
		fired <- struct{}{}
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte(`{"g1":{}}`), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	// unrelated file in the same directory
	_ = os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected change callback")
	}
	time.Sleep(200 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one debounced call, got %d", got)
	}
}
