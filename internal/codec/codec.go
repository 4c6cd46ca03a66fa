// Package codec defines the container codec contract and the registry that
// dispatches files to a codec by their leading bytes.
package codec

import (
	"github.com/starford/exifwarden/internal/metadata"
)

// SniffLen is the number of leading bytes the registry needs to pick a codec.
const SniffLen = 16

// Compression tells the integrity verifier how to compare pixel data.
type Compression int

const (
	Lossless Compression = iota
	Lossy
)

func (c Compression) String() string {
	if c == Lossy {
		return "lossy"
	}
	return "lossless"
}

// Codec reads and rewrites the metadata regions of one container format.
// Pixel data is always copied through byte for byte.
type Codec interface {
	Name() string
	Signature() []byte
	// Detect reports whether prefix starts with the format signature. It
	// never fails; short input returns false.
	Detect(prefix []byte) bool
	Compression() Compression
	Decode(data []byte) (*metadata.Document, error)
	Encode(original []byte, doc *metadata.Document) ([]byte, error)
	Strip(original []byte, scope metadata.Scope) ([]byte, error)
}

// StripWith decodes data with c, applies scope and encodes the result.
func StripWith(c Codec, data []byte, scope metadata.Scope) ([]byte, error) {
	doc, err := c.Decode(data)
	if err != nil {
		return nil, err
	}
	doc.Apply(scope)
	return c.Encode(data, doc)
}
