package transport

import (
	"context"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"github.com/ndlib/chunkkv/store"
	"github.com/ndlib/chunkkv/util"
)

// Local is a Transport over a store living in this process.
//
// Do not change Clock or Concurrency concurrently with calls using the
// structure.
type Local struct {
	s store.Store

	// Clock turns relative expirations into absolute ones.
	Clock clock.Clock

	// Concurrency bounds the writes in flight during PutMulti.
	Concurrency int
}

var (
	// ensure Local satisfies the Transport interface
	_ Transport = &Local{}
)

// DefaultConcurrency is the initial value of Local.Concurrency.
const DefaultConcurrency = 8

// NewLocal returns a Transport using the binding s.
func NewLocal(s store.Store) *Local {
	return &Local{
		s:           s,
		Clock:       clock.New(),
		Concurrency: DefaultConcurrency,
	}
}

func (l *Local) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := l.s.Get(ctx, key)
	if err == store.ErrNotExist {
		return nil, false, nil
	} else if err != nil {
		return nil, false, localError("get", key, err)
	}
	if v == nil {
		v = []byte{}
	}
	return v, true, nil
}

func (l *Local) Put(ctx context.Context, key string, value []byte, opts PutOptions) error {
	err := l.s.Put(ctx, key, value, opts.Deadline(l.now()))
	if err != nil {
		return localError("put", key, err)
	}
	return nil
}

func (l *Local) Delete(ctx context.Context, key string) (bool, error) {
	err := l.s.Delete(ctx, key)
	if err == store.ErrNotExist {
		return false, nil
	} else if err != nil {
		return false, localError("delete", key, err)
	}
	return true, nil
}

// PutMulti writes every pair. The binding has no bulk primitive, so the
// writes are independent: all are attempted and the first failure is
// returned.
func (l *Local) PutMulti(ctx context.Context, pairs []Pair) error {
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	gate := util.NewGate(l.Concurrency)
	setErr := func(err error) {
		once.Do(func() { firstErr = err })
	}
	now := l.now()
	for i := range pairs {
		if err := gate.EnterContext(ctx); err != nil {
			setErr(err)
			break
		}
		wg.Add(1)
		go func(p Pair) {
			defer wg.Done()
			defer gate.Leave()
			err := l.s.Put(ctx, p.Key, p.Value, p.Options.Deadline(now))
			if err != nil {
				setErr(localError("bulk", p.Key, err))
			}
		}(pairs[i])
	}
	wg.Wait()
	return firstErr
}

func (l *Local) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	keys, next, err := l.s.List(ctx, opts.Prefix, opts.Cursor, opts.Limit)
	if err != nil {
		return ListResult{}, localError("list", "", err)
	}
	result := ListResult{
		Keys:   make([]Key, 0, len(keys)),
		Cursor: next,
	}
	for _, k := range keys {
		var exp int64
		if !k.Expiration.IsZero() {
			exp = k.Expiration.Unix()
		}
		result.Keys = append(result.Keys, Key{Name: k.Name, Expiration: exp})
	}
	result.Count = len(result.Keys)
	return result, nil
}

func (l *Local) now() time.Time {
	if l.Clock == nil {
		return time.Now()
	}
	return l.Clock.Now()
}

func localError(op, key string, err error) error {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return err
	}
	return &Error{Op: op, Key: key, Detail: err.Error(), Err: err}
}
