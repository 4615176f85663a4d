package chunkkv

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"strings"

	"github.com/pkg/errors"
)

// Representation is the form Get returns a value in.
type Representation int

const (
	Binary Representation = iota // []byte
	Text                         // string
	JSON                         // the value decoded by encoding/json into an interface{}
	Stream                       // io.ReadCloser
)

func (r Representation) String() string {
	switch r {
	case Binary:
		return "binary"
	case Text:
		return "text"
	case JSON:
		return "json"
	case Stream:
		return "stream"
	}
	return "unknown"
}

// ParseRepresentation returns the Representation named by s. Both
// "arrayBuffer" and "binary" name Binary.
func ParseRepresentation(s string) (Representation, error) {
	switch strings.ToLower(s) {
	case "binary", "arraybuffer":
		return Binary, nil
	case "text":
		return Text, nil
	case "json":
		return JSON, nil
	case "stream":
		return Stream, nil
	}
	return 0, ErrUnsupportedRepresentation
}

func (r Representation) valid() bool {
	return r >= Binary && r <= Stream
}

// decode turns the raw bytes of a value into r.
func (r Representation) decode(data []byte) (interface{}, error) {
	switch r {
	case Binary:
		return data, nil
	case Text:
		return string(data), nil
	case JSON:
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, errors.Wrap(err, "decoding json value")
		}
		return v, nil
	case Stream:
		return ioutil.NopCloser(bytes.NewReader(data)), nil
	}
	return nil, ErrUnsupportedRepresentation
}
