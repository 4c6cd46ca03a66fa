package codec

import (
	"fmt"
	"io"
	"os"

	"github.com/starford/exifwarden/internal/apperr"
)

// Registry resolves a file to its codec. Codecs are tried in the order they
// were registered.
type Registry struct {
	codecs []Codec
}

// NewRegistry builds a registry and rejects codecs whose signatures overlap.
func NewRegistry(codecs ...Codec) (*Registry, error) {
	names := make(map[string]struct{}, len(codecs))
	for i, c := range codecs {
		if _, dup := names[c.Name()]; dup {
			return nil, fmt.Errorf("codec: duplicate codec name %q", c.Name())
		}
		names[c.Name()] = struct{}{}
		for j, o := range codecs {
			if i != j && o.Detect(c.Signature()) {
				return nil, fmt.Errorf("codec: signature of %s is also detected by %s", c.Name(), o.Name())
			}
		}
	}
	out := make([]Codec, len(codecs))
	copy(out, codecs)
	return &Registry{codecs: out}, nil
}

// Codecs returns the registered codecs in priority order.
func (r *Registry) Codecs() []Codec {
	out := make([]Codec, len(r.codecs))
	copy(out, r.codecs)
	return out
}

// Resolve returns the first codec whose signature matches prefix.
func (r *Registry) Resolve(prefix []byte) (Codec, error) {
	for _, c := range r.codecs {
		if c.Detect(prefix) {
			return c, nil
		}
	}
	return nil, apperr.NotFound("codec: resolve", "no codec matches signature % x", head(prefix, 8))
}

// ResolveFile reads the first SniffLen bytes of path and resolves them.
func (r *Registry) ResolveFile(path string) (Codec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.IO("codec: open", path, err)
	}
	defer f.Close()

	buf := make([]byte, SniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, apperr.IO("codec: sniff", path, err)
	}
	c, err := r.Resolve(buf[:n])
	if err != nil {
		return nil, apperr.Classify("codec: resolve", path, err)
	}
	return c, nil
}

func head(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}
