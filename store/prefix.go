package store

import (
	"context"
	"strings"
	"time"
)

// Wrap the store s by one which will prefix all its keys by prefix.
// This provides a way to namespace the keys, and to share the same underlying
// store among a group of users.
func NewWithPrefix(s Store, prefix string) Store {
	return prefixstore{s: s, p: prefix}
}

type prefixstore struct {
	s Store  // the store being wrapped
	p string // the prefix for our keys
}

func (ps prefixstore) Get(ctx context.Context, key string) ([]byte, error) {
	return ps.s.Get(ctx, ps.p+key)
}

func (ps prefixstore) Put(ctx context.Context, key string, value []byte, expires time.Time) error {
	return ps.s.Put(ctx, ps.p+key, value, expires)
}

func (ps prefixstore) Delete(ctx context.Context, key string) error {
	return ps.s.Delete(ctx, ps.p+key)
}

// List strips our prefix from the returned keys and from the cursor. The
// cursor handed out is the bare key, so it stays meaningful to callers.
func (ps prefixstore) List(ctx context.Context, prefix, cursor string, limit int) ([]Key, string, error) {
	var plen = len(ps.p)
	if cursor != "" {
		cursor = ps.p + cursor
	}
	keys, next, err := ps.s.List(ctx, ps.p+prefix, cursor, limit)
	var result = make([]Key, 0, len(keys))
	for _, key := range keys {
		if strings.HasPrefix(key.Name, ps.p) {
			key.Name = key.Name[plen:]
			result = append(result, key)
		}
	}
	next = strings.TrimPrefix(next, ps.p)
	return result, next, err
}
