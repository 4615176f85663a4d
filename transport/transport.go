// Package transport defines the primitive key-value operations the chunk
// engine is built on, and the Local transport which performs them against an
// in-process store. The remote transport lives in package kvapi.
//
// Transports move raw bytes only. Values larger than the backend's entry
// ceiling are the engine's concern, not the transport's.
package transport

import (
	"context"
	"fmt"
	"time"
)

// Transport is a backend reached one way or another.
//
// A missing key is never an error: Get returns ok == false and Delete returns
// existed == false. Anything else the backend refuses is returned as an
// *Error.
type Transport interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte, opts PutOptions) error
	Delete(ctx context.Context, key string) (existed bool, err error)
	PutMulti(ctx context.Context, pairs []Pair) error
	List(ctx context.Context, opts ListOptions) (ListResult, error)
}

// PutOptions controls when a written entry expires. Both fields are in
// seconds; zero means unset. If both are set the earlier deadline wins.
type PutOptions struct {
	Expiration    int64 // absolute, seconds since the unix epoch
	ExpirationTTL int64 // relative to the time of the write
}

// Extend returns o with whichever expiration is set pushed back by grace.
// Options with no expiration are returned unchanged.
func (o PutOptions) Extend(grace time.Duration) PutOptions {
	secs := int64(grace / time.Second)
	if o.Expiration > 0 {
		o.Expiration += secs
	}
	if o.ExpirationTTL > 0 {
		o.ExpirationTTL += secs
	}
	return o
}

// Deadline converts o to an absolute time, given the time of the write. The
// zero time means the entry does not expire.
func (o PutOptions) Deadline(now time.Time) time.Time {
	var result time.Time
	if o.Expiration > 0 {
		result = time.Unix(o.Expiration, 0)
	}
	if o.ExpirationTTL > 0 {
		t := now.Add(time.Duration(o.ExpirationTTL) * time.Second)
		if result.IsZero() || t.Before(result) {
			result = t
		}
	}
	return result
}

// Pair is one entry of a bulk write.
type Pair struct {
	Key     string
	Value   []byte
	Options PutOptions
}

// ListOptions selects one page of keys. An empty Cursor starts at the
// beginning. A Limit <= 0 lets the backend choose.
type ListOptions struct {
	Prefix string
	Cursor string
	Limit  int
}

// ListResult is one page of keys. Cursor is opaque and is empty on the last
// page. Count is always len(Keys).
type ListResult struct {
	Keys   []Key
	Cursor string
	Count  int
}

// Key is one listed entry. Expiration is in unix seconds, 0 if unknown or
// never.
type Key struct {
	Name       string
	Expiration int64
}

// Error is a failure reported by the backend, or in reaching it.
type Error struct {
	Op     string // e.g. "get", "put", "delete", "bulk", "list"
	Key    string // empty for bulk and list
	Status int    // backend (HTTP) status; 0 for in-process backends
	Detail string
	Err    error // underlying cause, if any
}

func (e *Error) Error() string {
	msg := "transport: " + e.Op
	if e.Key != "" {
		msg += fmt.Sprintf(" %q", e.Key)
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}
