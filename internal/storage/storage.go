package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Backend persists named JSON documents. Each Save replaces the whole
// document; the last writer wins.
type Backend interface {
	Load(ctx context.Context, name string, out any) error
	Save(ctx context.Context, name string, v any) error
}

// File stores each document as <dir>/<name>.json.
type File struct {
	mu     sync.Mutex
	dir    string
	logger *zap.Logger
}

func NewFile(dir string, logger *zap.Logger) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &File{dir: dir, logger: logger.Named("storage")}, nil
}

func (f *File) Path(name string) string {
	return filepath.Join(f.dir, name+".json")
}

// Load decodes the named document into out. A missing document is
// created empty; an unreadable one is logged and reset to empty. In both
// cases out is left untouched.
func (f *File) Load(ctx context.Context, name string, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.Path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read %s: %w", name, err)
		}
		return f.writeLocked(path, emptyDocument(out))
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return f.writeLocked(path, emptyDocument(out))
	}
	if err := json.Unmarshal(data, out); err != nil {
		f.logger.Warn("corrupt document reset", zap.String("name", name), zap.Error(err))
		return f.writeLocked(path, emptyDocument(out))
	}
	return nil
}

func (f *File) Save(ctx context.Context, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeLocked(f.Path(name), data)
}

func (f *File) writeLocked(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// emptyDocument picks the JSON shape of an empty collection for out.
func emptyDocument(out any) []byte {
	data, err := json.Marshal(out)
	if err == nil && len(data) > 0 {
		switch data[0] {
		case '[':
			return []byte("[]")
		case '{':
			return []byte("{}")
		}
	}
	if strings.HasPrefix(fmt.Sprintf("%T", out), "*[]") {
		return []byte("[]")
	}
	return []byte("{}")
}
