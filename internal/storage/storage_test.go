package storage

import (
	"context"
	"errors"
	"os"
	"testing"

	"go.uber.org/zap"
)

type record struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type readOnly struct {
	Backend
	locked bool
}

func (r *readOnly) Save(ctx context.Context, name string, v any) error {
	if r.locked {
		return errors.New("read-only file system")
	}
	return r.Backend.Save(ctx, name, v)
}

func TestFileMissingDocumentCreatedEmpty(t *testing.T) {
	store, err := NewFile(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	var items []record
	if err := store.Load(context.Background(), "giveaways", &items); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty list, got %d", len(items))
	}
	data, err := os.ReadFile(store.Path("giveaways"))
	if err != nil {
		t.Fatalf("expected file created: %v", err)
	}
	if string(data) != "[]" {
		t.Fatalf("expected empty array on disk, got %q", data)
	}
}

func TestFileCorruptDocumentReset(t *testing.T) {
	store, err := NewFile(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := os.WriteFile(store.Path("pending-guild-commands"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	pending := map[string]record{}
	if err := store.Load(context.Background(), "pending-guild-commands", &pending); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty map")
	}
	data, _ := os.ReadFile(store.Path("pending-guild-commands"))
	if string(data) != "{}" {
		t.Fatalf("expected reset to empty object, got %q", data)
	}
}

func TestCollectionRoundTrip(t *testing.T) {
	store, err := NewFile(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	coll := NewCollection[record](store, "tempbans")
	if _, err := coll.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := coll.Append(ctx, record{ID: "a", Name: "first"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := coll.Append(ctx, record{ID: "b", Name: "second"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := coll.Update(ctx, func(items []record) []record {
		return items[1:]
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	reopened := NewCollection[record](store, "tempbans")
	items, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(items) != 1 || items[0].ID != "b" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestCollectionFailedAppendLeavesMemory(t *testing.T) {
	store, err := NewFile(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	backend := &readOnly{Backend: store}
	ctx := context.Background()
	coll := NewCollection[record](backend, "giveaways")
	if err := coll.Append(ctx, record{ID: "a"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	backend.locked = true
	if err := coll.Append(ctx, record{ID: "b"}); err == nil {
		t.Fatalf("expected append to fail")
	}
	if items := coll.Items(); len(items) != 1 || items[0].ID != "a" {
		t.Fatalf("failed append must not change memory, got %+v", items)
	}

	// Update keeps its result in memory regardless
	if err := coll.Update(ctx, func(items []record) []record {
		return append(items, record{ID: "c"})
	}); err == nil {
		t.Fatalf("expected update to fail")
	}
	if got := len(coll.Items()); got != 2 {
		t.Fatalf("expected update kept in memory, got %d items", got)
	}
}

func TestCollectionUpdateIfSkipsUnchanged(t *testing.T) {
	store, err := NewFile(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	backend := &readOnly{Backend: store, locked: true}
	coll := NewCollection[record](backend, "giveaways")
	err = coll.UpdateIf(context.Background(), func(items []record) ([]record, bool) {
		return append(items, record{ID: "a"}), false
	})
	if err != nil {
		t.Fatalf("unchanged update must not write: %v", err)
	}
	if got := len(coll.Items()); got != 1 {
		t.Fatalf("expected memory updated, got %d items", got)
	}
}
