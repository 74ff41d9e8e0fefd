// Package store is the key-value persistence used for saved filter sets,
// automation rules and user settings. Values are JSON documents; every
// write is announced to subscribers so controllers can react to changes
// made elsewhere.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Get when the key has never been set.
var ErrNotFound = errors.New("store: key not found")

// ChangeFunc is invoked after a key is written or deleted.
type ChangeFunc func(key string)

// Store is a JSON key-value store with change notification.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Subscribe(fn ChangeFunc) (unsubscribe func())
	Close() error
}

// GetJSON decodes the value stored under key into v. It returns
// ErrNotFound unchanged so callers can fall back to defaults.
func GetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

// notifier fans change notifications out to subscribers. Callbacks run
// outside the lock, in subscription order.
type notifier struct {
	mu   sync.RWMutex
	next int
	subs map[int]ChangeFunc
	ids  []int
}

func (n *notifier) Subscribe(fn ChangeFunc) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]ChangeFunc)
	}
	id := n.next
	n.next++
	n.subs[id] = fn
	n.ids = append(n.ids, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs, id)
			for i, v := range n.ids {
				if v == id {
					n.ids = append(n.ids[:i], n.ids[i+1:]...)
					break
				}
			}
		})
	}
}

func (n *notifier) notify(key string) {
	n.mu.RLock()
	fns := make([]ChangeFunc, 0, len(n.ids))
	for _, id := range n.ids {
		fns = append(fns, n.subs[id])
	}
	n.mu.RUnlock()
	for _, fn := range fns {
		fn(key)
	}
}
