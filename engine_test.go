package chunkkv

import (
	"bytes"
	"context"
	"io/ioutil"
	"math/rand"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"

	"github.com/ndlib/chunkkv/fragment"
	"github.com/ndlib/chunkkv/kvapi"
	"github.com/ndlib/chunkkv/server"
	"github.com/ndlib/chunkkv/store"
	"github.com/ndlib/chunkkv/transport"
)

// backendCeiling is the entry limit of the test backends. It leaves room for
// a manifest, which is longer than the small block sizes used here.
const backendCeiling = 128

// a harness is an engine together with the store its transport writes to,
// so tests can look behind the engine.
type harness struct {
	name    string
	engine  *Engine
	backend store.Store
	clock   *clock.Mock
}

// harnesses returns an engine over each kind of transport, all with the
// given block size. Call the returned function when finished.
func harnesses(t *testing.T, blockSize int) ([]harness, func()) {
	t.Helper()
	var result []harness

	// local
	mock := clock.NewMock()
	mock.Add(1000 * time.Hour)
	mem := store.NewMemory()
	mem.Clock = mock
	mem.MaxValueSize = backendCeiling
	local := transport.NewLocal(mem)
	local.Clock = mock
	result = append(result, harness{
		name:    "local",
		engine:  NewWithTransport(local, blockSize),
		backend: mem,
		clock:   mock,
	})

	// remote
	mock = clock.NewMock()
	mock.Add(1000 * time.Hour)
	mem = store.NewMemory()
	mem.Clock = mock
	s := &server.RESTServer{
		Store:        mem,
		MaxValueSize: backendCeiling,
		Clock:        mock,
	}
	ts := httptest.NewServer(s.Handler())
	e, err := New(Config{
		HostURL:     ts.URL,
		AccountID:   "acct",
		NamespaceID: "ns",
		Credentials: &kvapi.Credentials{Token: "anything"},
		BlockSize:   blockSize,
	})
	if err != nil {
		t.Fatal(err)
	}
	result = append(result, harness{
		name:    "remote",
		engine:  e,
		backend: store.NewWithPrefix(mem, "ns/"),
		clock:   mock,
	})
	return result, ts.Close
}

// blockKeys returns every block key in the backend.
func (h harness) blockKeys(t *testing.T) []store.Key {
	t.Helper()
	keys, _, err := h.backend.List(context.Background(), fragment.BlockKeyPrefix(), "", 0)
	if err != nil {
		t.Fatal(h.name, err)
	}
	return keys
}

func (h harness) raw(t *testing.T, key string) []byte {
	t.Helper()
	v, err := h.backend.Get(context.Background(), key)
	if err != nil {
		t.Fatal(h.name, key, err)
	}
	return v
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

func TestRoundTrip(t *testing.T) {
	const B = 16
	hs, done := harnesses(t, B)
	defer done()
	ctx := context.Background()
	for _, h := range hs {
		for _, size := range []int{0, 1, B - 1, B, B + 1, 2 * B, 5*B + 3} {
			want := randomBytes(size)
			prior, err := h.engine.Put(ctx, "k", want, transport.PutOptions{})
			if err != nil {
				t.Fatalf("%s: Put %d: %s", h.name, size, err)
			}
			// every earlier manifest is handed back
			if err := h.engine.Clean(ctx, prior); err != nil {
				t.Errorf("%s: Clean %d: %s", h.name, size, err)
			}
			got, ok, err := h.engine.GetBytes(ctx, "k")
			if err != nil || !ok {
				t.Fatalf("%s: Get %d: %v %v", h.name, size, ok, err)
			}
			if !bytes.Equal(got, want) {
				t.Errorf("%s: size %d: received %v, expected %v", h.name, size, got, want)
			}
		}
		// only the blocks of the last value remain
		if n := len(h.blockKeys(t)); n != 6 {
			t.Errorf("%s: %d blocks remain, expected 6", h.name, n)
		}
	}
}

func TestThresholdBoundary(t *testing.T) {
	const B = 16
	hs, done := harnesses(t, B)
	defer done()
	ctx := context.Background()
	for _, h := range hs {
		exact := randomBytes(B)
		h.engine.Put(ctx, "exact", exact, transport.PutOptions{})
		if !bytes.Equal(h.raw(t, "exact"), exact) {
			t.Errorf("%s: value of block size was not stored directly", h.name)
		}
		if n := len(h.blockKeys(t)); n != 0 {
			t.Errorf("%s: %d blocks written, expected 0", h.name, n)
		}

		h.engine.Put(ctx, "over", randomBytes(B+1), transport.PutOptions{})
		m, ok := fragment.Decode(h.raw(t, "over"))
		if !ok {
			t.Fatalf("%s: no manifest stored, found %q", h.name, h.raw(t, "over"))
		}
		if m.Count != 2 {
			t.Errorf("%s: manifest has %d blocks, expected 2", h.name, m.Count)
		}
		if n := len(h.blockKeys(t)); n != 2 {
			t.Errorf("%s: %d blocks written, expected 2", h.name, n)
		}
	}
}

func TestConcreteScenario(t *testing.T) {
	hs, done := harnesses(t, 10)
	defer done()
	ctx := context.Background()
	for _, h := range hs {
		_, err := h.engine.Put(ctx, "x", "abcdefghijklmn", transport.PutOptions{})
		if err != nil {
			t.Fatal(h.name, err)
		}
		m, ok := fragment.Decode(h.raw(t, "x"))
		if !ok || m.Count != 2 {
			t.Fatalf("%s: stored %q", h.name, h.raw(t, "x"))
		}
		keys := m.BlockKeys()
		if b := string(h.raw(t, keys[0])); b != "abcdefghij" {
			t.Errorf("%s: block 0 is %q", h.name, b)
		}
		if b := string(h.raw(t, keys[1])); b != "klmn" {
			t.Errorf("%s: block 1 is %q", h.name, b)
		}
		text, ok, err := h.engine.GetText(ctx, "x")
		if err != nil || !ok || text != "abcdefghijklmn" {
			t.Errorf("%s: Get returned %q %v %v", h.name, text, ok, err)
		}
	}
}

func TestGrammarDiscrimination(t *testing.T) {
	const id = "1c8f35a4-0f2a-4b1d-9e2e-6d6f7a1b3c4d"
	var table = []string{
		"kvchunk:v1",
		"kvchunk:v1:" + id,
		"kvchunk:v1:" + id + ":0",
		"kvchunk:v1:" + id + ":02",
		"kvchunk:v1:" + id + ":2 ",
		" kvchunk:v1:" + id + ":2",
		"kvchunk:v2:" + id + ":2",
		"kvchunk:v1:" + strings.ToUpper(id) + ":2",
		"prefix kvchunk:v1:" + id + ":2",
	}
	hs, done := harnesses(t, 8)
	defer done()
	ctx := context.Background()
	for _, h := range hs {
		for _, payload := range table {
			// write it behind the engine, as something else might
			err := h.backend.Put(ctx, "p", []byte(payload), time.Time{})
			if err != nil {
				t.Fatal(h.name, err)
			}
			v, err := h.engine.Get(ctx, "p", Text)
			if err != nil {
				t.Errorf("%s: %q: %s", h.name, payload, err)
				continue
			}
			if v != payload {
				t.Errorf("%s: received %q, expected %q", h.name, v, payload)
			}
		}
	}
}

func TestOversizedCount(t *testing.T) {
	payload := "kvchunk:v1:1c8f35a4-0f2a-4b1d-9e2e-6d6f7a1b3c4d:9000000000000000000"
	hs, done := harnesses(t, 8)
	defer done()
	ctx := context.Background()
	for _, h := range hs {
		err := h.backend.Put(ctx, "p", []byte(payload), time.Time{})
		if err != nil {
			t.Fatal(h.name, err)
		}
		v, err := h.engine.Get(ctx, "p", Text)
		if err != nil || v != payload {
			t.Errorf("%s: received %q %v, expected %q", h.name, v, err, payload)
		}
		prior, err := h.engine.Put(ctx, "p", "new", transport.PutOptions{})
		if err != nil || prior != "" {
			t.Errorf("%s: Put returned %q %v", h.name, prior, err)
		}
		err = h.engine.Clean(ctx, payload)
		if err != ErrInvalidManifest {
			t.Errorf("%s: Clean returned %v, expected %v", h.name, err, ErrInvalidManifest)
		}
		h.backend.Put(ctx, "p", []byte(payload), time.Time{})
		existed, err := h.engine.Delete(ctx, "p")
		if !existed || err != nil {
			t.Errorf("%s: Delete returned %v %v", h.name, existed, err)
		}
	}
}

func TestTooManyBlocks(t *testing.T) {
	mem := store.NewMemory()
	e := NewWithTransport(transport.NewLocal(mem), 1)
	ctx := context.Background()
	_, err := e.Put(ctx, "k", randomBytes(fragment.MaxBlocks+1), transport.PutOptions{})
	if err != ErrValueTooLarge {
		t.Errorf("received %v, expected %v", err, ErrValueTooLarge)
	}
	if mem.Len() != 0 {
		t.Errorf("%d entries written", mem.Len())
	}

	// exactly MaxBlocks blocks is accepted
	data := randomBytes(fragment.MaxBlocks)
	_, err = e.Put(ctx, "k", data, transport.PutOptions{})
	if err != nil {
		t.Fatal(err)
	}
	got, _, err := e.GetBytes(ctx, "k")
	if err != nil || !bytes.Equal(got, data) {
		t.Errorf("received %d bytes, %v", len(got), err)
	}
}

func TestMissingKey(t *testing.T) {
	hs, done := harnesses(t, 8)
	defer done()
	ctx := context.Background()
	for _, h := range hs {
		v, err := h.engine.Get(ctx, "nothing", Binary)
		if v != nil || err != nil {
			t.Errorf("%s: Get returned %v %v", h.name, v, err)
		}
		_, ok, err := h.engine.GetBytes(ctx, "nothing")
		if ok || err != nil {
			t.Errorf("%s: GetBytes returned %v %v", h.name, ok, err)
		}
		existed, err := h.engine.Delete(ctx, "nothing")
		if existed || err != nil {
			t.Errorf("%s: Delete returned %v %v", h.name, existed, err)
		}
	}
}

func TestCascadingDelete(t *testing.T) {
	hs, done := harnesses(t, 8)
	defer done()
	ctx := context.Background()
	for _, h := range hs {
		h.engine.Put(ctx, "big", randomBytes(8*4+1), transport.PutOptions{})
		h.engine.Put(ctx, "small", "tiny", transport.PutOptions{})
		if n := len(h.blockKeys(t)); n != 5 {
			t.Fatalf("%s: %d blocks, expected 5", h.name, n)
		}
		existed, err := h.engine.Delete(ctx, "big")
		if !existed || err != nil {
			t.Errorf("%s: Delete returned %v %v", h.name, existed, err)
		}
		if n := len(h.blockKeys(t)); n != 0 {
			t.Errorf("%s: %d blocks remain", h.name, n)
		}
		if _, err := h.backend.Get(ctx, "big"); err != store.ErrNotExist {
			t.Errorf("%s: key remains, %v", h.name, err)
		}
		existed, err = h.engine.Delete(ctx, "small")
		if !existed || err != nil {
			t.Errorf("%s: Delete returned %v %v", h.name, existed, err)
		}
		if _, err := h.backend.Get(ctx, "small"); err != store.ErrNotExist {
			t.Errorf("%s: key remains, %v", h.name, err)
		}
	}
}

func TestOverwriteCleanup(t *testing.T) {
	hs, done := harnesses(t, 8)
	defer done()
	ctx := context.Background()
	for _, h := range hs {
		prior, err := h.engine.Put(ctx, "k", randomBytes(30), transport.PutOptions{})
		if prior != "" || err != nil {
			t.Fatalf("%s: first Put returned %q %v", h.name, prior, err)
		}
		manifest := string(h.raw(t, "k"))

		prior, err = h.engine.Put(ctx, "k", "small", transport.PutOptions{})
		if err != nil {
			t.Fatal(h.name, err)
		}
		if prior != manifest {
			t.Errorf("%s: Put returned %q, expected %q", h.name, prior, manifest)
		}
		// nothing is removed until asked
		if n := len(h.blockKeys(t)); n != 4 {
			t.Errorf("%s: %d blocks before Clean, expected 4", h.name, n)
		}
		if err := h.engine.Clean(ctx, prior); err != nil {
			t.Fatal(h.name, err)
		}
		if n := len(h.blockKeys(t)); n != 0 {
			t.Errorf("%s: %d blocks after Clean", h.name, n)
		}
		text, _, _ := h.engine.GetText(ctx, "k")
		if text != "small" {
			t.Errorf("%s: received %q", h.name, text)
		}
		// cleaning twice is harmless
		if err := h.engine.Clean(ctx, prior); err != nil {
			t.Errorf("%s: second Clean: %s", h.name, err)
		}
		if err := h.engine.Clean(ctx, "small"); err != ErrInvalidManifest {
			t.Errorf("%s: Clean of a non manifest returned %v", h.name, err)
		}
		if err := h.engine.Clean(ctx, ""); err != nil {
			t.Errorf("%s: Clean of nothing returned %v", h.name, err)
		}
	}
}

func TestMissingBlocks(t *testing.T) {
	hs, done := harnesses(t, 8)
	defer done()
	ctx := context.Background()
	for _, h := range hs {
		h.engine.Put(ctx, "k", randomBytes(20), transport.PutOptions{})
		manifest := h.raw(t, "k")
		m, _ := fragment.Decode(manifest)
		err := h.backend.Delete(ctx, m.BlockKeys()[1])
		if err != nil {
			t.Fatal(h.name, err)
		}

		_, _, err = h.engine.GetBytes(ctx, "k")
		if !IsMissingBlocks(err) {
			t.Fatalf("%s: received %v, expected missing blocks", h.name, err)
		}
		mb := err.(*MissingBlocksError)
		if mb.Manifest != string(manifest) || mb.Key != "k" || !reflect.DeepEqual(mb.Missing, []int{1}) {
			t.Errorf("%s: received %#v", h.name, mb)
		}

		// the usual recovery
		existed, err := h.engine.Delete(ctx, "k")
		if !existed || err != nil {
			t.Errorf("%s: Delete returned %v %v", h.name, existed, err)
		}
		if n := len(h.blockKeys(t)); n != 0 {
			t.Errorf("%s: %d blocks remain", h.name, n)
		}
	}
}

func TestRepresentations(t *testing.T) {
	type record struct {
		Name  string   `json:"name"`
		Tags  []string `json:"tags"`
		Count int      `json:"count"`
	}
	want := record{Name: "a long enough name", Tags: []string{"x", "y"}, Count: 3}
	hs, done := harnesses(t, 8)
	defer done()
	ctx := context.Background()
	for _, h := range hs {
		_, err := h.engine.Put(ctx, "rec", want, transport.PutOptions{})
		if err != nil {
			t.Fatal(h.name, err)
		}

		var got record
		ok, err := h.engine.GetJSON(ctx, "rec", &got)
		if !ok || err != nil || !reflect.DeepEqual(got, want) {
			t.Errorf("%s: GetJSON returned %#v %v %v", h.name, got, ok, err)
		}

		v, err := h.engine.Get(ctx, "rec", JSON)
		if err != nil {
			t.Fatal(h.name, err)
		}
		obj, _ := v.(map[string]interface{})
		if obj["name"] != want.Name || obj["count"] != float64(3) {
			t.Errorf("%s: Get JSON returned %#v", h.name, v)
		}

		v, err = h.engine.Get(ctx, "rec", Text)
		if s, _ := v.(string); !strings.HasPrefix(s, `{"name":`) || err != nil {
			t.Errorf("%s: Get Text returned %#v %v", h.name, v, err)
		}

		r, ok, err := h.engine.GetReader(ctx, "rec")
		if !ok || err != nil {
			t.Fatal(h.name, ok, err)
		}
		data, _ := ioutil.ReadAll(r)
		r.Close()
		v, _ = h.engine.Get(ctx, "rec", Binary)
		if !bytes.Equal(data, v.([]byte)) {
			t.Errorf("%s: stream and binary differ", h.name)
		}

		_, err = h.engine.Get(ctx, "rec", Representation(42))
		if err != ErrUnsupportedRepresentation {
			t.Errorf("%s: received %v, expected %v", h.name, err, ErrUnsupportedRepresentation)
		}

		h.engine.Put(ctx, "notjson", "{{{", transport.PutOptions{})
		_, err = h.engine.Get(ctx, "notjson", JSON)
		if err == nil {
			t.Errorf("%s: expected a decoding error", h.name)
		}

		// readers are read to the end
		h.engine.Put(ctx, "reader", strings.NewReader("from a reader, longer than a block"), transport.PutOptions{})
		text, _, _ := h.engine.GetText(ctx, "reader")
		if text != "from a reader, longer than a block" {
			t.Errorf("%s: received %q", h.name, text)
		}
	}
}

func TestParseRepresentation(t *testing.T) {
	var table = []struct {
		input string
		rep   Representation
		ok    bool
	}{
		{"text", Text, true},
		{"json", JSON, true},
		{"arrayBuffer", Binary, true},
		{"binary", Binary, true},
		{"stream", Stream, true},
		{"STREAM", Stream, true},
		{"", 0, false},
		{"blob", 0, false},
	}
	for _, tab := range table {
		rep, err := ParseRepresentation(tab.input)
		if (err == nil) != tab.ok || (tab.ok && rep != tab.rep) {
			t.Errorf("%q: received %v %v", tab.input, rep, err)
		}
		if tab.ok && rep.String() == "unknown" {
			t.Errorf("%q: no name for %d", tab.input, rep)
		}
	}
}

func TestBlockExpiration(t *testing.T) {
	hs, done := harnesses(t, 8)
	defer done()
	ctx := context.Background()
	for _, h := range hs {
		start := h.clock.Now()
		h.engine.Put(ctx, "k", randomBytes(20), transport.PutOptions{ExpirationTTL: 60})
		keys, _, err := h.backend.List(ctx, "", "", 0)
		if err != nil {
			t.Fatal(h.name, err)
		}
		if len(keys) != 4 {
			t.Fatalf("%s: %d keys, expected 4", h.name, len(keys))
		}
		for _, k := range keys {
			expect := start.Add(60*time.Second + GracePeriod)
			if k.Name == "k" {
				expect = start.Add(60 * time.Second)
			}
			if !k.Expiration.Equal(expect) {
				t.Errorf("%s: %s expires %v, expected %v", h.name, k.Name, k.Expiration, expect)
			}
		}

		// the blocks outlive the manifest
		h.clock.Add(61 * time.Second)
		_, ok, _ := h.engine.GetBytes(ctx, "k")
		if ok {
			t.Errorf("%s: value did not expire", h.name)
		}
		if n := len(h.blockKeys(t)); n != 3 {
			t.Errorf("%s: %d blocks, expected 3", h.name, n)
		}
	}
}

// failingTransport fails writes of the second block of any value.
type failingTransport struct {
	transport.Transport
}

func (f failingTransport) Put(ctx context.Context, key string, value []byte, opts transport.PutOptions) error {
	if strings.HasPrefix(key, fragment.BlockKeyPrefix()) && strings.HasSuffix(key, "+0001") {
		return &transport.Error{Op: "put", Key: key, Status: 500, Detail: "injected failure"}
	}
	return f.Transport.Put(ctx, key, value, opts)
}

func TestBlockWriteFailure(t *testing.T) {
	mem := store.NewMemory()
	local := transport.NewLocal(mem)
	good := NewWithTransport(local, 8)
	bad := NewWithTransport(failingTransport{local}, 8)
	ctx := context.Background()

	good.Put(ctx, "k", "the value already here", transport.PutOptions{})
	before, _ := mem.Get(ctx, "k")

	prior, err := bad.Put(ctx, "k", randomBytes(40), transport.PutOptions{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if prior != "" {
		t.Errorf("received prior %q", prior)
	}
	var te *transport.Error
	if !errors.As(err, &te) || te.Status != 500 {
		t.Errorf("received %v, expected the transport error", err)
	}
	if !strings.Contains(err.Error(), "+0001") {
		t.Errorf("error %q does not name the block", err)
	}
	after, _ := mem.Get(ctx, "k")
	if !bytes.Equal(before, after) {
		t.Errorf("key changed from %q to %q", before, after)
	}
	text, _, _ := good.GetText(ctx, "k")
	if text != "the value already here" {
		t.Errorf("received %q", text)
	}

	// small values do not touch blocks
	_, err = bad.Put(ctx, "k", "short", transport.PutOptions{})
	if err != nil {
		t.Errorf("received %v", err)
	}
}

func TestBackendRefusal(t *testing.T) {
	// a block size above the backend ceiling is refused by the backend
	hs, done := harnesses(t, 2*backendCeiling)
	defer done()
	ctx := context.Background()
	for _, h := range hs {
		_, err := h.engine.Put(ctx, "k", randomBytes(backendCeiling+1), transport.PutOptions{})
		var te *transport.Error
		if !errors.As(err, &te) || te.Key != "k" {
			t.Errorf("%s: received %v", h.name, err)
		}
	}
}

func TestPutMultiAndList(t *testing.T) {
	hs, done := harnesses(t, 8)
	defer done()
	ctx := context.Background()
	for _, h := range hs {
		err := h.engine.PutMulti(ctx, []transport.Pair{
			{Key: "m/1", Value: []byte("one")},
			{Key: "m/2", Value: []byte("two")},
			{Key: "m/3", Value: []byte("three")},
		})
		if err != nil {
			t.Fatal(h.name, err)
		}
		text, _, _ := h.engine.GetText(ctx, "m/3")
		if text != "three" {
			t.Errorf("%s: received %q", h.name, text)
		}

		var names []string
		opts := transport.ListOptions{Prefix: "m/", Limit: 2}
		for {
			result, err := h.engine.List(ctx, opts)
			if err != nil {
				t.Fatal(h.name, err)
			}
			if result.Count != len(result.Keys) {
				t.Errorf("%s: count %d for %d keys", h.name, result.Count, len(result.Keys))
			}
			for _, k := range result.Keys {
				names = append(names, k.Name)
			}
			if result.Cursor == "" {
				break
			}
			opts.Cursor = result.Cursor
		}
		if strings.Join(names, ",") != "m/1,m/2,m/3" {
			t.Errorf("%s: listed %v", h.name, names)
		}

		result, err := h.engine.List(ctx, transport.ListOptions{Prefix: "none/"})
		if err != nil || result.Keys == nil || result.Count != 0 {
			t.Errorf("%s: received %#v %v", h.name, result, err)
		}
	}
}

func TestNew(t *testing.T) {
	var table = []struct {
		config Config
		ok     bool
	}{
		{Config{}, false},
		{Config{AccountID: "a", NamespaceID: "n"}, false},
		{Config{AccountID: "a", Credentials: &kvapi.Credentials{Token: "t"}}, false},
		{Config{AccountID: "a", NamespaceID: "n", Credentials: &kvapi.Credentials{}}, false},
		{Config{AccountID: "a", NamespaceID: "n", Credentials: &kvapi.Credentials{Token: "t"}}, true},
		{Config{Binding: store.NewMemory()}, true},
	}
	for i, tab := range table {
		e, err := New(tab.config)
		if (err == nil) != tab.ok {
			t.Errorf("%d: received %v", i, err)
		}
		if e != nil && e.BlockSize() != DefaultBlockSize {
			t.Errorf("%d: block size %d", i, e.BlockSize())
		}
	}
	e, _ := New(Config{Binding: store.NewMemory(), BlockSize: 100})
	if e.BlockSize() != 100 {
		t.Errorf("block size %d, expected 100", e.BlockSize())
	}
}
