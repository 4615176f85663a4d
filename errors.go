package chunkkv

import (
	"fmt"

	"github.com/pkg/errors"
)

// Exported errors
var (
	ErrUnsupportedRepresentation = errors.New("unsupported representation")
	ErrInvalidManifest           = errors.New("not a manifest")
	ErrValueTooLarge             = errors.New("value needs more blocks than a manifest may name")
	ErrMissingConfig             = errors.New("configuration needs a binding, or an account, namespace and credentials")
)

// MissingBlocksError is returned by Get when the value at Key is a manifest
// but some of its blocks could not be found. Manifest is the stored manifest,
// exactly as read. Missing lists the indices of the absent blocks.
//
// Usually the value is being overwritten or deleted by someone else. If not,
// the value is lost and the key should be deleted.
type MissingBlocksError struct {
	Key      string
	Manifest string
	Missing  []int
}

func (e *MissingBlocksError) Error() string {
	return fmt.Sprintf("chunkkv: %s: %d block(s) missing for manifest %s",
		e.Key, len(e.Missing), e.Manifest)
}

// IsMissingBlocks reports whether err, or anything it wraps, is a
// *MissingBlocksError.
func IsMissingBlocks(err error) bool {
	var mb *MissingBlocksError
	return errors.As(err, &mb)
}
