package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrCorrupted indicates a collection file that is not a JSON array.
var ErrCorrupted = errors.New("collection file corrupted")

const filePerm = 0o644

// collection is one JSON array file. Every mutation holds mu for the whole
// read-modify-write so concurrent appends never drop each other's entries.
type collection[T any] struct {
	name string
	path string
	mu   sync.Mutex
}

func newCollection[T any](dir, name string) *collection[T] {
	return &collection[T]{name: name, path: filepath.Join(dir, name+".json")}
}

// all returns every entry. A missing file is an empty collection.
func (c *collection[T]) all() ([]T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load()
}

// add appends items, creating the file on first use.
func (c *collection[T]) add(items ...T) error {
	if len(items) == 0 {
		return nil
	}
	return c.update(func(existing []T) ([]T, error) {
		return append(existing, items...), nil
	})
}

// update rewrites the collection with the result of fn.
func (c *collection[T]) update(fn func([]T) ([]T, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.load()
	if err != nil {
		return err
	}
	next, err := fn(existing)
	if err != nil {
		return err
	}
	return c.write(next)
}

func (c *collection[T]) load() ([]T, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return []T{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.name, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []T{}, nil
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, c.name, err)
	}
	if items == nil {
		// a literal null
		return nil, fmt.Errorf("%w: %s: not an array", ErrCorrupted, c.name)
	}
	return items, nil
}

// write replaces the file atomically: encode to a temp file in the same
// directory, fsync, then rename over the target.
func (c *collection[T]) write(items []T) error {
	if items == nil {
		items = []T{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("failed to encode %s: %w", c.name, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), "."+c.name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", c.name, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		cleanup()
		return fmt.Errorf("failed to write %s: %w", c.name, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", c.name, err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod %s: %w", c.name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close %s: %w", c.name, err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename %s: %w", c.name, err)
	}
	return nil
}
