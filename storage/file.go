package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// FileStore keeps all keys in a single msgpack-encoded file. A missing file is
// an empty store. Writes go to a temporary file that replaces the original.
type FileStore struct {
	path   string
	mu     sync.Mutex
	data   map[string]string
	loaded bool
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a FileStore backed by path. The file is read lazily.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file location.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) load() error {
	if f.loaded {
		return nil
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			f.data = make(map[string]string)
			f.loaded = true
			return nil
		}
		return fmt.Errorf("storage: read %s: %w", f.path, err)
	}
	data := make(map[string]string)
	if len(raw) > 0 {
		if err := msgpack.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("storage: decode %s: %w", f.path, err)
		}
	}
	f.data = data
	f.loaded = true
	return nil
}

func (f *FileStore) save() error {
	raw, err := msgpack.Marshal(f.data)
	if err != nil {
		return fmt.Errorf("storage: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("storage: create dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("storage: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("storage: replace %s: %w", f.path, err)
	}
	return nil
}

func (f *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return "", false, err
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *FileStore) Set(ctx context.Context, key, value string) error {
	return f.MultiSet(ctx, map[string]string{key: value})
}

func (f *FileStore) Remove(ctx context.Context, key string) error {
	return f.MultiRemove(ctx, key)
}

func (f *FileStore) MultiGet(_ context.Context, keys ...string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := f.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (f *FileStore) MultiSet(_ context.Context, pairs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return err
	}
	for k, v := range pairs {
		f.data[k] = v
	}
	return f.save()
}

func (f *FileStore) MultiRemove(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return err
	}
	changed := false
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return f.save()
}
