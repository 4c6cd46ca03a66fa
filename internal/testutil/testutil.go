// Package testutil builds synthetic JPEG and PNG fixtures for tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// Pattern returns a w×h gradient with enough detail to survive encoding.
func Pattern(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / max(w-1, 1)),
				G: uint8(y * 255 / max(h-1, 1)),
				B: uint8((x + y) * 4),
				A: 255,
			})
		}
	}
	return img
}

// JPEG encodes Pattern(w, h) as a baseline JPEG with no APP segments.
func JPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Pattern(w, h), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// Segment is a JPEG marker segment to inject.
type Segment struct {
	Marker  byte
	Payload []byte
}

// SegmentBytes serialises one marker segment.
func SegmentBytes(s Segment) []byte {
	out := []byte{0xFF, s.Marker}
	out = binary.BigEndian.AppendUint16(out, uint16(len(s.Payload)+2))
	return append(out, s.Payload...)
}

// WithSegments inserts segs directly after the SOI marker of data.
func WithSegments(data []byte, segs ...Segment) []byte {
	out := append([]byte(nil), data[:2]...)
	for _, s := range segs {
		out = append(out, SegmentBytes(s)...)
	}
	return append(out, data[2:]...)
}

// PNG encodes Pattern(w, h) as a PNG.
func PNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, Pattern(w, h)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// Chunk serialises one PNG chunk with a correct CRC.
func Chunk(typ string, payload []byte) []byte {
	out := binary.BigEndian.AppendUint32(nil, uint32(len(payload)))
	out = append(out, typ...)
	out = append(out, payload...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out[4:]))
}

// TextChunk serialises a tEXt chunk.
func TextChunk(keyword, value string) []byte {
	return Chunk("tEXt", []byte(keyword+"\x00"+value))
}

// WithChunks inserts raw chunks directly after the IHDR chunk of data.
func WithChunks(data []byte, chunks ...[]byte) []byte {
	ihdrEnd := 8 + 12 + int(binary.BigEndian.Uint32(data[8:]))
	out := append([]byte(nil), data[:ihdrEnd]...)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return append(out, data[ihdrEnd:]...)
}

// ChunkTypes lists the chunk types of a PNG stream in order.
func ChunkTypes(t *testing.T, data []byte) []string {
	t.Helper()
	var out []string
	for pos := 8; pos+12 <= len(data); {
		n := int(binary.BigEndian.Uint32(data[pos:]))
		typ := string(data[pos+4 : pos+8])
		out = append(out, typ)
		pos += 12 + n
		if typ == "IEND" {
			break
		}
	}
	return out
}

// WriteFile writes data to dir/name and returns the path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}
