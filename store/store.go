// Package store provides small, goroutine safe key-value bindings. These are
// the in-process backends the chunk engine is layered over. Every binding
// holds whole values in memory and may refuse values above some size, which
// is why large values are split before they reach a store.
//
// The Memory store is useful for testing and for single process use. The S3
// store keeps its entries as objects in a bucket.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Store defines the basic key-value binding.
//
// An entry may carry an expiration time. Once the expiration has passed the
// entry behaves as if it was deleted. A zero expiration never expires.
type Store interface {
	// Get returns the value stored at key, or ErrNotExist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put creates or replaces the entry at key.
	Put(ctx context.Context, key string, value []byte, expires time.Time) error

	// Delete removes the entry at key. It returns ErrNotExist if there was
	// no such entry.
	Delete(ctx context.Context, key string) error

	// List returns up to limit keys beginning with prefix, in key order,
	// starting after cursor. The returned cursor is empty when there are no
	// more keys; otherwise it is the last key of the page and should be
	// passed to the next call. A limit <= 0 uses the store's default page
	// size.
	List(ctx context.Context, prefix, cursor string, limit int) ([]Key, string, error)
}

// Key describes one entry returned by List.
type Key struct {
	Name       string
	Expiration time.Time // zero if the entry does not expire
}

// DefaultListLimit is the page size used when List is passed a limit <= 0.
const DefaultListLimit = 1000

var (
	// ErrNotExist is returned for keys which are missing or have expired.
	ErrNotExist = errors.New("key does not exist")

	// ErrTooLarge is returned by stores with a size ceiling when a value
	// exceeds it.
	ErrTooLarge = errors.New("value too large")
)

// expired reports if an entry with the given expiration is no longer
// visible at time now.
func expired(expires, now time.Time) bool {
	return !expires.IsZero() && !now.Before(expires)
}
