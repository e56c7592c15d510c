// Package store holds the five durable record collections. Each collection
// lives in memory and is mirrored to one JSON snapshot file; every update is
// staged on a copy, written to a temporary file and atomically renamed over
// the snapshot before the copy replaces the in-memory state. A failure at
// any stage leaves both memory and disk at the previous snapshot.
package store

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"jellyward/types"
)

type Collection[V any] struct {
	name string
	path string
	log  zerolog.Logger

	mu    sync.Mutex
	items map[string]V
}

// openCollection hydrates a collection from its snapshot. A missing file
// yields an empty collection. A corrupt file yields an empty collection
// unless required is set, in which case startup must fail: the account
// collection is irreplaceable.
func openCollection[V any](dir, name string, required bool, log zerolog.Logger) (*Collection[V], error) {
	c := &Collection[V]{
		name:  name,
		path:  filepath.Join(dir, name+".json"),
		log:   log.With().Str("collection", name).Logger(),
		items: make(map[string]V),
	}

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		if required {
			return nil, fmt.Errorf("read %s snapshot: %w", name, err)
		}
		c.log.Warn().Err(err).Msg("snapshot unreadable, starting empty")
		return c, nil
	}

	if err := json.Unmarshal(data, &c.items); err != nil {
		if required {
			return nil, fmt.Errorf("corrupt %s snapshot %s: %w", name, c.path, err)
		}
		c.log.Warn().Err(err).Str("path", c.path).Msg("corrupt snapshot, starting empty")
		c.items = make(map[string]V)
	}
	return c, nil
}

func (c *Collection[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

// List returns a copy of the collection. Values are safe to read; mutations
// must go through Update.
func (c *Collection[V]) List() map[string]V {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.items)
}

func (c *Collection[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Update runs fn with exclusive access to a staged copy of the collection
// and persists the result atomically. If fn or the snapshot write fails,
// neither memory nor disk changes.
func (c *Collection[V]) Update(fn func(items map[string]V) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	staged := maps.Clone(c.items)
	if err := fn(staged); err != nil {
		return err
	}
	if err := c.persist(staged); err != nil {
		return err
	}
	c.items = staged
	return nil
}

func (c *Collection[V]) Put(key string, value V) error {
	return c.Update(func(items map[string]V) error {
		items[key] = value
		return nil
	})
}

func (c *Collection[V]) Delete(key string) error {
	return c.Update(func(items map[string]V) error {
		if _, ok := items[key]; !ok {
			return types.ErrNotFound
		}
		delete(items, key)
		return nil
	})
}

// persist writes staged to a temporary file and renames it over the
// snapshot. Callers hold c.mu.
func (c *Collection[V]) persist(staged map[string]V) error {
	tmp, err := c.stage(staged)
	if err != nil {
		return err
	}
	return c.commit(tmp)
}

// stage encodes staged and writes it to the temporary snapshot file,
// returning its path. The caller holds c.mu and must follow with commit or
// remove the file. Splitting stage from commit lets Store.UpdateAccounts
// write every collection's temporary file before renaming any of them.
func (c *Collection[V]) stage(staged map[string]V) (string, error) {
	data, err := json.MarshalIndent(staged, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: encode %s: %v", types.ErrPersistence, c.name, err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return "", fmt.Errorf("%w: prepare %s: %v", types.ErrPersistence, c.name, err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("%w: write %s: %v", types.ErrPersistence, c.name, err)
	}
	return tmp, nil
}

// commit renames the staged temporary file over the snapshot. Callers hold
// c.mu.
func (c *Collection[V]) commit(tmp string) error {
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: swap %s: %v", types.ErrPersistence, c.name, err)
	}
	return nil
}
