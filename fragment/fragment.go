/*
Fragment holds the pieces used to store a value that is too large for a
single backend entry. A large value is cut into blocks of at most a fixed
size, each block is stored under its own key, and a small manifest naming the
block group is stored in place of the value itself.

Block keys are derived from the manifest's block id and the block index, so
a manifest is all that is needed to find every block belonging to it.
*/
package fragment

import (
	"fmt"
)

// blockKeyPrefix namespaces block entries away from caller keys. Listing a
// store with this prefix enumerates every block, orphans included.
const blockKeyPrefix = "_kvchunk/"

// BlockKeyPrefix returns the prefix shared by every block key.
func BlockKeyPrefix() string {
	return blockKeyPrefix
}

// BlockKey returns the backend key for block index of the block group id.
func BlockKey(id string, index int) string {
	return fmt.Sprintf("%s%s+%04d", blockKeyPrefix, id, index)
}

// Split cuts data into consecutive pieces of at most size bytes. The pieces
// share storage with data. An empty data gives an empty list.
// Split panics if size is not positive.
func Split(data []byte, size int) [][]byte {
	if size <= 0 {
		panic("fragment: non-positive block size")
	}
	n := (len(data) + size - 1) / size
	result := make([][]byte, 0, n)
	for len(data) > size {
		result = append(result, data[:size:size])
		data = data[size:]
	}
	if len(data) > 0 {
		result = append(result, data)
	}
	return result
}
