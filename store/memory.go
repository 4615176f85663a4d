package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// Memory implements a simple in-memory version of a store. It is intended
// mainly for testing and for single process use.
//
// Set MaxValueSize to have Put refuse large values the way a real backend
// would. Set Clock to control expiration in tests. Do not change either field
// concurrently with calls using the store.
type Memory struct {
	MaxValueSize int         // 0 for no limit
	Clock        clock.Clock // defaults to the wall clock

	m     sync.RWMutex // protects store
	store map[string]entry
}

type entry struct {
	value   []byte
	expires time.Time
}

var (
	// ensure Memory satisfies the Store interface
	_ Store = &Memory{}
)

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{
		Clock: clock.New(),
		store: make(map[string]entry),
	}
}

func (ms *Memory) now() time.Time {
	if ms.Clock == nil {
		return time.Now()
	}
	return ms.Clock.Now()
}

// Get returns a copy of the value stored at key.
func (ms *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.m.RLock()
	v, ok := ms.store[key]
	ms.m.RUnlock()
	if !ok || expired(v.expires, ms.now()) {
		return nil, ErrNotExist
	}
	return append([]byte{}, v.value...), nil
}

// Put saves a copy of value at key, replacing any previous entry.
func (ms *Memory) Put(ctx context.Context, key string, value []byte, expires time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ms.MaxValueSize > 0 && len(value) > ms.MaxValueSize {
		return ErrTooLarge
	}
	e := entry{
		value:   append([]byte{}, value...),
		expires: expires,
	}
	ms.m.Lock()
	ms.store[key] = e
	ms.m.Unlock()
	return nil
}

// Delete removes key from the store. Expired entries are reported as not
// existing, but are removed all the same.
func (ms *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.m.Lock()
	v, ok := ms.store[key]
	delete(ms.store, key)
	ms.m.Unlock()
	if !ok || expired(v.expires, ms.now()) {
		return ErrNotExist
	}
	return nil
}

// List returns the unexpired keys beginning with prefix. The cursor is the
// last key of the previous page.
func (ms *Memory) List(ctx context.Context, prefix, cursor string, limit int) ([]Key, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	now := ms.now()
	var keys []Key
	ms.m.RLock()
	for k, v := range ms.store {
		if !strings.HasPrefix(k, prefix) || k <= cursor || expired(v.expires, now) {
			continue
		}
		keys = append(keys, Key{Name: k, Expiration: v.expires})
	}
	ms.m.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name < keys[j].Name })
	var next string
	if len(keys) > limit {
		keys = keys[:limit]
		next = keys[limit-1].Name
	}
	return keys, next, nil
}

// Len returns the number of entries in the store, including expired ones
// which have not been removed yet.
func (ms *Memory) Len() int {
	ms.m.RLock()
	defer ms.m.RUnlock()
	return len(ms.store)
}
