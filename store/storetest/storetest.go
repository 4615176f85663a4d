// storetest provides functions for facilitating the testing of anything
// implementing the Store interface.
package storetest

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ndlib/chunkkv/store"
)

// Conformance checks the behavior every store.Store must have. The store
// should be empty when this is called, and it will be empty again afterward
// if everything passes.
func Conformance(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.Get(ctx, "conformance-missing"); err != store.ErrNotExist {
		t.Errorf("Get missing: received %v, expected %v", err, store.ErrNotExist)
	}
	if err := s.Delete(ctx, "conformance-missing"); err != store.ErrNotExist {
		t.Errorf("Delete missing: received %v, expected %v", err, store.ErrNotExist)
	}

	var entries = []struct {
		key   string
		value string
	}{
		{"conformance/a", "first value"},
		{"conformance/b", ""},
		{"conformance/c", "third"},
		{"conformance/d+0001", "with a plus"},
	}
	for _, e := range entries {
		if err := s.Put(ctx, e.key, []byte(e.value), time.Time{}); err != nil {
			t.Fatalf("Put %s: %s", e.key, err)
		}
	}
	// overwrite one
	if err := s.Put(ctx, "conformance/c", []byte("replaced"), time.Time{}); err != nil {
		t.Fatalf("Put: %s", err)
	}
	entries[2].value = "replaced"

	for _, e := range entries {
		v, err := s.Get(ctx, e.key)
		if err != nil {
			t.Errorf("Get %s: %s", e.key, err)
			continue
		}
		if string(v) != e.value {
			t.Errorf("Get %s: received %q, expected %q", e.key, v, e.value)
		}
	}

	// list one key at a time to exercise the cursor
	var names []string
	var cursor string
	for i := 0; i < 10; i++ {
		keys, next, err := s.List(ctx, "conformance/", cursor, 1)
		if err != nil {
			t.Fatalf("List: %s", err)
		}
		for _, k := range keys {
			names = append(names, k.Name)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	sort.Strings(names)
	if len(names) != len(entries) {
		t.Errorf("List: received %v", names)
	}
	for i := range names {
		if i < len(entries) && names[i] != entries[i].key {
			t.Errorf("List: received %s, expected %s", names[i], entries[i].key)
		}
	}

	// an entry which has already expired is invisible
	if err := s.Put(ctx, "conformance/old", []byte("x"), time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Put: %s", err)
	}
	if _, err := s.Get(ctx, "conformance/old"); err != store.ErrNotExist {
		t.Errorf("Get expired: received %v, expected %v", err, store.ErrNotExist)
	}
	s.Delete(ctx, "conformance/old")

	for _, e := range entries {
		if err := s.Delete(ctx, e.key); err != nil {
			t.Errorf("Delete %s: %s", e.key, err)
		}
		if _, err := s.Get(ctx, e.key); err != store.ErrNotExist {
			t.Errorf("Get deleted %s: received %v", e.key, err)
		}
	}
}

// Stress will spawn a number of goroutines to simultaneously read and write
// random values to the given store until totalsize bytes have been written.
// Each value is read back and compared, then either deleted or read again.
// It is a good test to run with the -race flag.
func Stress(t *testing.T, s store.Store, totalsize int64) {
	if totalsize == 0 {
		totalsize = 100 * 1000 * 1000 // 100MB
	}
	sizes := make(chan int64)
	check := make(chan blob, 1000)
	var uppool, downpool sync.WaitGroup

	for i := 0; i < 5; i++ {
		uppool.Add(1)
		go func(i int) {
			uploader(t, s, i, sizes, check)
			uppool.Done()
		}(i)
	}
	for i := 0; i < 10; i++ {
		downpool.Add(1)
		go func() {
			downloader(t, s, check)
			downpool.Done()
		}()
	}

	generatesizes(sizes, totalsize)
	close(sizes)
	uppool.Wait()
	close(check)
	downpool.Wait()
}

type blob struct {
	key  string
	hash []byte
}

func uploader(t *testing.T, s store.Store, n int, in <-chan int64, out chan<- blob) {
	ctx := context.Background()
	var count int
	for size := range in {
		data := make([]byte, size)
		rand.Read(data)
		key := fmt.Sprintf("stress-%d-%d", n, count)
		count++
		if err := s.Put(ctx, key, data, time.Time{}); err != nil {
			t.Error(key, size, err)
			continue
		}
		h := md5.Sum(data)
		out <- blob{key: key, hash: h[:]}
	}
}

func downloader(t *testing.T, s store.Store, in <-chan blob) {
	ctx := context.Background()
	for b := range in {
		data, err := s.Get(ctx, b.key)
		if err != nil {
			t.Error(b.key, err)
			continue
		}
		h := md5.Sum(data)
		if !bytes.Equal(b.hash, h[:]) {
			t.Errorf("hashes unequal for %s. Received %x", b.key, h)
			continue
		}
		err = s.Delete(ctx, b.key)
		if err != nil {
			t.Error(b.key, err)
		}
	}
}

func generatesizes(out chan<- int64, totalsize int64) {
	// We want a wide range of sizes, so generate the exponent of the size
	// uniformly at random.
	for totalsize > 0 {
		x := 16 * rand.Float64()
		size := int64(math.Trunc(math.Exp(x)))
		out <- size
		totalsize -= size
	}
}
