package chunkkv

import (
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"log"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ndlib/chunkkv/fragment"
	"github.com/ndlib/chunkkv/transport"
)

// DefaultBlockSize is the block size used when none is given. It is the
// default entry ceiling of the hosted service.
const DefaultBlockSize = 25 * 1024 * 1024

// GracePeriod is how much longer blocks live than the manifest referring to
// them, when the value was given an expiration.
const GracePeriod = 600 * time.Second

// maxInFlight bounds the concurrent block requests of a single operation.
const maxInFlight = 16

// An Engine stores values of any size through a Transport. It is safe to use
// from multiple goroutines. None of its multi-key operations are atomic, and
// it does not order concurrent operations on the same key.
type Engine struct {
	t         transport.Transport
	blockSize int
}

// NewWithTransport returns an Engine using t, which splits any value longer
// than blockSize bytes. A blockSize <= 0 uses DefaultBlockSize.
func NewWithTransport(t transport.Transport, blockSize int) *Engine {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Engine{t: t, blockSize: blockSize}
}

// BlockSize returns the largest value written without splitting.
func (e *Engine) BlockSize() int {
	return e.blockSize
}

// Put saves value at key. If the value is a []byte or a string it is stored
// as is. An io.Reader is read to the end. Anything else is stored as its JSON
// encoding.
//
// If key held a chunked value, its manifest is returned. Those blocks are not
// removed; pass the manifest to Clean when nobody can still be reading them.
// Otherwise "" is returned.
//
// Should writing any block fail, the manifest is not written and key keeps
// whatever it had before. Blocks written before the failure are left behind.
func (e *Engine) Put(ctx context.Context, key string, value interface{}, opts transport.PutOptions) (string, error) {
	raw, ok, err := e.t.Get(ctx, key)
	if err != nil {
		return "", err
	}
	var prior string
	if ok {
		if _, isManifest := fragment.Decode(raw); isManifest {
			prior = string(raw)
		}
	}

	data, err := encodeValue(value)
	if err != nil {
		return "", err
	}
	if len(data) <= e.blockSize {
		err = e.t.Put(ctx, key, data, opts)
		if err != nil {
			return "", err
		}
		return prior, nil
	}

	if (len(data)+e.blockSize-1)/e.blockSize > fragment.MaxBlocks {
		return "", ErrValueTooLarge
	}
	blocks := fragment.Split(data, e.blockSize)
	m := fragment.NewManifest(len(blocks))
	keys := m.BlockKeys()
	blockOpts := opts.Extend(GracePeriod)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)
	for i := range blocks {
		i := i
		g.Go(func() error {
			err := e.t.Put(gctx, keys[i], blocks[i], blockOpts)
			return errors.Wrapf(err, "writing block %s", keys[i])
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	err = e.t.Put(ctx, key, []byte(m.Encode()), opts)
	if err != nil {
		return "", err
	}
	return prior, nil
}

// Get returns the value at key in the representation rep. A missing key
// returns nil and no error.
func (e *Engine) Get(ctx context.Context, key string, rep Representation) (interface{}, error) {
	if !rep.valid() {
		return nil, ErrUnsupportedRepresentation
	}
	data, ok, err := e.read(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	return rep.decode(data)
}

// GetBytes returns the value at key. The bool is false if there is no such
// key.
func (e *Engine) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	return e.read(ctx, key)
}

// GetText is GetBytes, returning a string.
func (e *Engine) GetText(ctx context.Context, key string) (string, bool, error) {
	data, ok, err := e.read(ctx, key)
	return string(data), ok, err
}

// GetJSON decodes the value at key into v, which should be a pointer.
func (e *Engine) GetJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	data, ok, err := e.read(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	err = json.Unmarshal(data, v)
	if err != nil {
		return true, errors.Wrapf(err, "decoding json value of %s", key)
	}
	return true, nil
}

// GetReader returns a reader of the value at key. The whole value has been
// read before it is returned.
func (e *Engine) GetReader(ctx context.Context, key string) (io.ReadCloser, bool, error) {
	v, err := e.Get(ctx, key, Stream)
	if err != nil || v == nil {
		return nil, false, err
	}
	return v.(io.ReadCloser), true, nil
}

// read returns the logical value at key, reassembling it if it was chunked.
func (e *Engine) read(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := e.t.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	m, isManifest := fragment.Decode(raw)
	if !isManifest {
		return raw, true, nil
	}

	keys := m.BlockKeys()
	blocks := make([][]byte, len(keys))
	found := make([]bool, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)
	for i := range keys {
		i := i
		g.Go(func() error {
			v, ok, err := e.t.Get(gctx, keys[i])
			if err != nil {
				return errors.Wrapf(err, "reading block %s", keys[i])
			}
			blocks[i], found[i] = v, ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	var missing []int
	var size int
	for i := range blocks {
		if !found[i] {
			missing = append(missing, i)
		}
		size += len(blocks[i])
	}
	if len(missing) > 0 {
		log.Printf("%s: %d of %d blocks missing for %s", key, len(missing), m.Count, m.BlockID)
		return nil, false, &MissingBlocksError{Key: key, Manifest: string(raw), Missing: missing}
	}
	result := make([]byte, 0, size)
	for _, b := range blocks {
		result = append(result, b...)
	}
	return result, true, nil
}

// Delete removes key, and its blocks if it was chunked. It returns false if
// there was no such key. An interrupted Delete may be repeated.
func (e *Engine) Delete(ctx context.Context, key string) (bool, error) {
	raw, ok, err := e.t.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if m, isManifest := fragment.Decode(raw); isManifest {
		err = e.deleteBlocks(ctx, m)
		if err != nil {
			return false, err
		}
	}
	_, err = e.t.Delete(ctx, key)
	if err != nil {
		return false, err
	}
	return true, nil
}

// Clean removes the blocks of the given manifest, as returned by Put. It
// does nothing for the empty string, and never removes the key that held the
// manifest.
func (e *Engine) Clean(ctx context.Context, manifest string) error {
	if manifest == "" {
		return nil
	}
	m, ok := fragment.DecodeString(manifest)
	if !ok {
		return ErrInvalidManifest
	}
	return e.deleteBlocks(ctx, m)
}

// deleteBlocks removes every block of m. Blocks already gone are not an
// error.
func (e *Engine) deleteBlocks(ctx context.Context, m fragment.Manifest) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)
	for _, key := range m.BlockKeys() {
		key := key
		g.Go(func() error {
			_, err := e.t.Delete(gctx, key)
			return errors.Wrapf(err, "deleting block %s", key)
		})
	}
	return g.Wait()
}

// PutMulti writes all the pairs in one bulk write. Values are not split, so
// each must already fit in one entry of the backend.
func (e *Engine) PutMulti(ctx context.Context, pairs []transport.Pair) error {
	return e.t.PutMulti(ctx, pairs)
}

// List returns a page of the keys in the backend. Block keys are included;
// they all begin with fragment.BlockKeyPrefix().
func (e *Engine) List(ctx context.Context, opts transport.ListOptions) (transport.ListResult, error) {
	result, err := e.t.List(ctx, opts)
	if err != nil {
		return transport.ListResult{}, err
	}
	if result.Keys == nil {
		result.Keys = []transport.Key{}
	}
	result.Count = len(result.Keys)
	return result, nil
}

func encodeValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case io.Reader:
		data, err := ioutil.ReadAll(v)
		return data, errors.Wrap(err, "reading value")
	}
	data, err := json.Marshal(value)
	return data, errors.Wrap(err, "encoding value")
}
