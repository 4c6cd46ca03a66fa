package jpeg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/starford/exifwarden/internal/apperr"
)

const (
	markerSOI = 0xD8
	markerEOI = 0xD9
	markerSOS = 0xDA
	markerTEM = 0x01
	markerRST = 0xD0
	markerCOM = 0xFE
	markerAPP = 0xE0

	maxPayload = 0xFFFF - 2
)

var (
	exifPrefix      = []byte("Exif\x00\x00")
	xmpPrefix       = []byte("http://ns.adobe.com/xap/1.0/\x00")
	xmpExtPrefix    = []byte("http://ns.adobe.com/xmp/extension/\x00")
	photoshopPrefix = []byte("Photoshop 3.0\x00")
)

type kind int

const (
	kindOther kind = iota
	kindStructural
	kindExif
	kindXMP
	kindIPTC
	kindCustom
)

// segment is one marker segment. start..end covers any fill bytes, the
// marker and the length field.
type segment struct {
	marker     byte
	start, end int
	payload    []byte
	kind       kind
	key        string
	// extra marks repeated EXIF or XMP and extended XMP segments.
	extra bool
}

// scan splits data into the segments before the first SOS and returns the
// offset where opaque image data begins.
func scan(data []byte) ([]segment, int, error) {
	if len(data) < 2 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, 0, apperr.Format("jpeg: scan", "missing SOI marker")
	}
	var segs []segment
	pos := 2
	for {
		if pos >= len(data) {
			return nil, 0, apperr.Format("jpeg: scan", "end of file before SOS")
		}
		if data[pos] != 0xFF {
			return nil, 0, apperr.Format("jpeg: scan", "expected marker at %d, got 0x%02X", pos, data[pos])
		}
		start := pos
		for pos < len(data) && data[pos] == 0xFF {
			pos++
		}
		if pos >= len(data) {
			return nil, 0, apperr.Format("jpeg: scan", "end of file in fill bytes")
		}
		marker := data[pos]
		pos++

		switch {
		case marker == 0x00:
			return nil, 0, apperr.Format("jpeg: scan", "stuffed byte outside scan at %d", pos-1)
		case marker == markerEOI || marker == markerSOS:
			return segs, start, nil
		case marker == markerTEM || (marker >= markerRST && marker <= markerRST+7):
			segs = append(segs, segment{marker: marker, start: start, end: pos})
			continue
		}

		if pos+2 > len(data) {
			return nil, 0, apperr.Format("jpeg: scan", "length of marker 0x%02X truncated", marker)
		}
		n := int(binary.BigEndian.Uint16(data[pos:]))
		if n < 2 || pos+n > len(data) {
			return nil, 0, apperr.Format("jpeg: scan", "marker 0x%02X length %d past end", marker, n)
		}
		segs = append(segs, segment{
			marker:  marker,
			start:   start,
			end:     pos + n,
			payload: data[pos+2 : pos+n],
		})
		pos += n
	}
}

// classify assigns every segment its kind. Only the first EXIF, XMP and
// Photoshop segments are metadata; repeats are kept as custom.
func classify(segs []segment) {
	var exif, xmp, ps bool
	for i := range segs {
		s := &segs[i]
		switch {
		case s.marker == markerAPP+1 && bytes.HasPrefix(s.payload, exifPrefix):
			s.kind, s.extra = kindCustom, exif
			if !exif {
				s.kind, exif = kindExif, true
			}
		case s.marker == markerAPP+1 && bytes.HasPrefix(s.payload, xmpPrefix):
			s.kind, s.extra = kindCustom, xmp
			if !xmp {
				s.kind, xmp = kindXMP, true
			}
		case s.marker == markerAPP+1 && bytes.HasPrefix(s.payload, xmpExtPrefix):
			s.kind, s.extra = kindCustom, true
		case s.marker == markerAPP+13 && bytes.HasPrefix(s.payload, photoshopPrefix) && !ps:
			s.kind, ps = kindIPTC, true
		case isStructural(s):
			s.kind = kindStructural
		case isAPP(s.marker) || s.marker == markerCOM:
			s.kind = kindCustom
		}
	}
}

func isAPP(m byte) bool { return m >= markerAPP && m <= markerAPP+15 }

// isStructural reports segments that drive pixel decoding or colour and
// are never metadata.
func isStructural(s *segment) bool {
	switch s.marker {
	case markerAPP:
		return bytes.HasPrefix(s.payload, []byte("JFIF\x00")) || bytes.HasPrefix(s.payload, []byte("JFXX\x00"))
	case markerAPP + 2:
		return bytes.HasPrefix(s.payload, []byte("ICC_PROFILE\x00"))
	case markerAPP + 14:
		return bytes.HasPrefix(s.payload, []byte("Adobe"))
	}
	return false
}

func markerName(m byte) string {
	if m == markerCOM {
		return "COM"
	}
	return fmt.Sprintf("APP%d", m-markerAPP)
}

// Custom key names for APP1 segments that carry EXIF or XMP beyond the
// primary packets. A ".GPS" suffix marks content with location data.
const (
	keyExifExtra    = "ExifExtra"
	keyXMPExtra     = "XMPExtra"
	keyXMPExtension = "XMPExtension"
	gpsSuffix       = ".GPS"
)

// markerFor parses a custom key such as APP5, APP5#1, COM or ExifExtra.GPS.
func markerFor(key string) (byte, bool) {
	name, _, _ := strings.Cut(key, "#")
	switch strings.TrimSuffix(name, gpsSuffix) {
	case "COM":
		return markerCOM, true
	case keyExifExtra, keyXMPExtra, keyXMPExtension:
		return markerAPP + 1, true
	}
	for n := 0; n < 16; n++ {
		if name == fmt.Sprintf("APP%d", n) {
			return markerAPP + byte(n), true
		}
	}
	return 0, false
}

func appendSegment(out []byte, marker byte, payload []byte) ([]byte, error) {
	if len(payload) > maxPayload {
		return nil, apperr.Format("jpeg: encode", "%s payload of %d bytes exceeds segment limit", markerName(marker), len(payload))
	}
	out = append(out, 0xFF, marker)
	out = binary.BigEndian.AppendUint16(out, uint16(len(payload)+2))
	return append(out, payload...), nil
}
