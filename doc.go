/*

Chunkkv stores values of any size in a key-value backend which limits the size
of a single entry.

A value no larger than the block size is written directly at its key. A larger
value is split into blocks of at most the block size. Each block is written
under a key derived from a fresh random block id and the block's index, and
then a small manifest naming the block id and the number of blocks is written
at the value's key. The manifest is always written last, so a failed write
never disturbs the value previously at the key.

Readers tell manifests and ordinary values apart by the exact form of the
stored bytes. A manifest looks like

	kvchunk:v1:1c8f35a4-0f2a-4b1d-9e2e-6d6f7a1b3c4d:3

and its blocks live at

	_kvchunk/1c8f35a4-0f2a-4b1d-9e2e-6d6f7a1b3c4d+0000
	_kvchunk/1c8f35a4-0f2a-4b1d-9e2e-6d6f7a1b3c4d+0001
	_kvchunk/1c8f35a4-0f2a-4b1d-9e2e-6d6f7a1b3c4d+0002

A stored value which happens to have exactly that form is read as a manifest.

The manifest and its blocks are separate entries, and nothing makes their
updates atomic. Overwriting a chunked value leaves its old blocks in place; Put
returns the old manifest so the caller can pass it to Clean once no reader
needs it. Delete removes the blocks and then the key, and may be repeated to
finish an interrupted delete. Blocks are given an expiration a grace period
later than that of their manifest.

An Engine reaches the backend through a transport.Transport. The Local
transport works with a store.Store in this process, and a kvapi.Connection
talks to a remote service over HTTP. Either is chosen once when the Engine is
made.

*/
package chunkkv
