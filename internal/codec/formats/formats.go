// Package formats wires the built-in codecs into a registry.
package formats

import (
	"log/slog"

	"github.com/starford/exifwarden/internal/codec"
	"github.com/starford/exifwarden/internal/codec/jpeg"
	"github.com/starford/exifwarden/internal/codec/png"
)

// Default returns a registry holding the JPEG codec, then the PNG codec.
func Default(logger *slog.Logger) *codec.Registry {
	r, err := codec.NewRegistry(jpeg.New(logger), png.New(logger))
	if err != nil {
		// The built-in signatures are disjoint.
		panic(err)
	}
	return r
}
