package fragment

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/uuid"
)

// A Manifest is stored at a key in place of a value which was split into
// blocks. Count is the number of blocks written for BlockID.
type Manifest struct {
	BlockID string
	Count   int
}

// MaxBlocks is the largest block count a manifest may carry. An entry naming
// more blocks is taken as a direct payload, and Put refuses values which would
// need more.
const MaxBlocks = 1 << 16

// the whole entry must match. An entry which merely contains a manifest is
// a direct payload.
var manifestPattern = regexp.MustCompile(
	`^kvchunk:v1:([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}):([1-9][0-9]*)$`)

// NewManifest returns a manifest for count blocks with a freshly generated
// block id. Ids are never reused, so the blocks of two manifests never share
// keys.
func NewManifest(count int) Manifest {
	return Manifest{
		BlockID: uuid.New().String(),
		Count:   count,
	}
}

// Encode renders m in the form recognized by Decode.
func (m Manifest) Encode() string {
	return fmt.Sprintf("kvchunk:v1:%s:%d", m.BlockID, m.Count)
}

func (m Manifest) String() string {
	return m.Encode()
}

// BlockKeys lists the keys of every block in m, in index order.
func (m Manifest) BlockKeys() []string {
	keys := make([]string, m.Count)
	for i := range keys {
		keys[i] = BlockKey(m.BlockID, i)
	}
	return keys
}

// Decode tries to parse raw as an encoded manifest. If raw is anything else
// ok is false and raw should be treated as a direct payload.
func Decode(raw []byte) (m Manifest, ok bool) {
	// an encoded manifest is never longer than this. Checking first avoids
	// running the pattern over large payloads.
	const maxEncodedLen = 80
	if len(raw) > maxEncodedLen {
		return Manifest{}, false
	}
	match := manifestPattern.FindSubmatch(raw)
	if match == nil {
		return Manifest{}, false
	}
	count, err := strconv.Atoi(string(match[2]))
	if err != nil || count > MaxBlocks {
		return Manifest{}, false
	}
	return Manifest{BlockID: string(match[1]), Count: count}, true
}

// DecodeString is Decode for a string argument.
func DecodeString(s string) (Manifest, bool) {
	return Decode([]byte(s))
}
