// Package util holds small concurrency helpers shared by the transports.
package util

import (
	"context"
)

// A Gate limits concurrency. Every gate has a maximum number of goroutines
// to allow through at a time. Goroutines enter the gate by calling
// EnterContext, and signal that they are done by calling Leave.
type Gate chan struct{}

// NewGate returns a Gate which accepts at most n entries at a time.
// A n <= 0 is taken as 1.
func NewGate(n int) Gate {
	if n <= 0 {
		n = 1
	}
	return Gate(make(chan struct{}, n))
}

// EnterContext blocks the calling goroutine until there are fewer than n
// goroutines inside the gate, or until ctx is done. Leave must only be called
// if EnterContext returned nil.
func (g Gate) EnterContext(ctx context.Context) error {
	select {
	case g <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave marks a goroutine outside the critical section. Each successful
// entry must be balanced by exactly one Leave, though not necessarily from
// the same goroutine.
func (g Gate) Leave() {
	<-g
}
