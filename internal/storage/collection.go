package storage

import (
	"context"
	"sync"
)

// Collection is a typed list document backed by a Backend. The
// in-memory slice is authoritative between loads.
type Collection[T any] struct {
	mu      sync.Mutex
	backend Backend
	name    string
	items   []T
}

func NewCollection[T any](backend Backend, name string) *Collection[T] {
	return &Collection[T]{backend: backend, name: name}
}

func (c *Collection[T]) Name() string { return c.name }

// Load replaces the in-memory items with the stored document.
func (c *Collection[T]) Load(ctx context.Context) ([]T, error) {
	var items []T
	if err := c.backend.Load(ctx, c.name, &items); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.items = items
	out := append([]T(nil), items...)
	c.mu.Unlock()
	return out, nil
}

func (c *Collection[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

// Replace swaps the in-memory items and persists them.
func (c *Collection[T]) Replace(ctx context.Context, items []T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append([]T(nil), items...)
	return c.backend.Save(ctx, c.name, nonNil(append([]T(nil), c.items...)))
}

// Append persists the list with item added. The in-memory items only
// change once the write succeeds.
func (c *Collection[T]) Append(ctx context.Context, item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := append(append([]T(nil), c.items...), item)
	if err := c.backend.Save(ctx, c.name, next); err != nil {
		return err
	}
	c.items = next
	return nil
}

// Update applies fn to the items under the lock and persists the result.
// The in-memory result is kept even when the write fails.
func (c *Collection[T]) Update(ctx context.Context, fn func([]T) []T) error {
	return c.UpdateIf(ctx, func(items []T) ([]T, bool) {
		return fn(items), true
	})
}

// UpdateIf is Update for callers that only sometimes change the list.
// Nothing is written when fn reports no change.
func (c *Collection[T]) UpdateIf(ctx context.Context, fn func([]T) ([]T, bool)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, changed := fn(c.items)
	c.items = items
	if !changed {
		return nil
	}
	return c.backend.Save(ctx, c.name, nonNil(append([]T(nil), c.items...)))
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// Fetch reads the stored document without touching the in-memory items.
func (c *Collection[T]) Fetch(ctx context.Context) ([]T, error) {
	var items []T
	if err := c.backend.Load(ctx, c.name, &items); err != nil {
		return nil, err
	}
	return items, nil
}
