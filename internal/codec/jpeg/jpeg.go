// Package jpeg implements the metadata codec for JPEG marker-segment files.
package jpeg

import (
	"bytes"
	"log/slog"
	"strconv"

	"github.com/starford/exifwarden/internal/apperr"
	"github.com/starford/exifwarden/internal/codec"
	"github.com/starford/exifwarden/internal/codec/iptc"
	"github.com/starford/exifwarden/internal/codec/tiff"
	"github.com/starford/exifwarden/internal/codec/xmp"
	"github.com/starford/exifwarden/internal/metadata"
)

// Name is the format name stored in decoded documents.
const Name = "JPEG"

var signature = []byte{0xFF, 0xD8, 0xFF}

// Codec reads and rewrites APP and COM segments. Everything from the first
// SOS onwards is copied unchanged.
type Codec struct {
	log *slog.Logger
}

var _ codec.Codec = (*Codec)(nil)

// New returns a JPEG codec that reports non-fatal problems to logger.
func New(logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{log: logger}
}

func (c *Codec) Name() string { return Name }

func (c *Codec) Signature() []byte { return signature }

func (c *Codec) Detect(prefix []byte) bool { return bytes.HasPrefix(prefix, signature) }

func (c *Codec) Compression() codec.Compression { return codec.Lossy }

// layout is a scanned file together with its parsed metadata structures and
// the document they decode to.
type layout struct {
	segs []segment
	tail int
	exif *tiff.Tree
	xmp  *xmp.Packet
	ps   *iptc.Photoshop
	doc  *metadata.Document
}

func (c *Codec) parse(data []byte, warn bool) (*layout, error) {
	segs, tail, err := scan(data)
	if err != nil {
		return nil, err
	}
	classify(segs)

	l := &layout{segs: segs, tail: tail, doc: metadata.New(Name)}
	demote := func(s *segment, feature string, err error) {
		s.kind = kindCustom
		if warn {
			c.log.Warn("jpeg: metadata segment kept as custom data",
				slog.String("feature", feature),
				slog.String("error", err.Error()))
		}
	}

	used := make(map[string]int)
	for i := range l.segs {
		s := &l.segs[i]
		switch s.kind {
		case kindExif:
			tree, err := tiff.Parse(s.payload[len(exifPrefix):])
			if err != nil {
				demote(s, "exif", err)
				break
			}
			l.exif = tree
			tree.Fill(l.doc.Exif())
		case kindXMP:
			p, err := xmp.Parse(s.payload[len(xmpPrefix):])
			if err != nil {
				demote(s, "xmp", err)
				break
			}
			l.xmp = p
			p.Fill(l.doc.Xmp())
		case kindIPTC:
			ps, err := iptc.Parse(s.payload[len(photoshopPrefix):])
			if err != nil {
				demote(s, "iptc", err)
				break
			}
			l.ps = ps
			ps.Fill(l.doc.Iptc(), l.doc.Custom())
		}
		if s.kind == kindCustom {
			s.key = uniqueKey(used, customName(s))
			l.doc.Custom().Set(s.key, metadata.TextOrBytes(s.payload))
		}
	}
	return l, nil
}

// customName names a custom segment after its marker, or after its content
// for extra EXIF and XMP segments so that location data in them is visible
// to the gps-only scope.
func customName(s *segment) string {
	if !s.extra {
		return markerName(s.marker)
	}
	var name string
	var gps bool
	switch {
	case bytes.HasPrefix(s.payload, exifPrefix):
		name = keyExifExtra
		if tree, err := tiff.Parse(s.payload[len(exifPrefix):]); err == nil {
			b := metadata.New(Name).Exif()
			tree.Fill(b)
			for _, k := range b.Keys() {
				if metadata.IsGPSKey(k) {
					gps = true
					break
				}
			}
		}
	case bytes.HasPrefix(s.payload, xmpPrefix):
		name = keyXMPExtra
		gps = metadata.IsGPSKey(string(s.payload[len(xmpPrefix):]))
	default:
		name = keyXMPExtension
		gps = metadata.IsGPSKey(string(s.payload[len(xmpExtPrefix):]))
	}
	if gps {
		name += gpsSuffix
	}
	return name
}

func uniqueKey(used map[string]int, name string) string {
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	return name + "#" + strconv.Itoa(n)
}

// Decode extracts the metadata of a JPEG file.
func (c *Codec) Decode(data []byte) (*metadata.Document, error) {
	l, err := c.parse(data, true)
	if err != nil {
		return nil, err
	}
	return l.doc, nil
}

// Encode rewrites the metadata segments of original to match doc. Unchanged
// segments are copied byte for byte.
func (c *Codec) Encode(original []byte, doc *metadata.Document) ([]byte, error) {
	l, err := c.parse(original, false)
	if err != nil {
		return nil, err
	}
	orig := l.doc

	fresh, err := c.newSegments(l, doc)
	if err != nil {
		return nil, err
	}

	insertAt := len(l.segs)
	for i, s := range l.segs {
		if s.kind != kindStructural {
			insertAt = i
			break
		}
	}

	out := make([]byte, 0, len(original))
	out = append(out, original[:2]...)
	for i := range l.segs {
		s := &l.segs[i]
		if i == insertAt {
			out = append(out, fresh...)
		}
		raw := original[s.start:s.end]

		switch s.kind {
		case kindExif:
			if doc.Exif().Equal(orig.Exif()) {
				out = append(out, raw...)
				continue
			}
			if doc.Exif().Len() == 0 {
				continue
			}
			if err := l.exif.Apply(doc.Exif()); err != nil {
				return nil, err
			}
			if out, err = appendSegment(out, s.marker, join(exifPrefix, l.exif.Bytes())); err != nil {
				return nil, err
			}
		case kindXMP:
			if doc.Xmp().Equal(orig.Xmp()) {
				out = append(out, raw...)
				continue
			}
			if doc.Xmp().Len() == 0 {
				continue
			}
			packet, err := l.xmp.Rewrite(doc.Xmp())
			if err != nil {
				return nil, err
			}
			if out, err = appendSegment(out, s.marker, join(xmpPrefix, packet)); err != nil {
				return nil, err
			}
		case kindIPTC:
			psDoc := resourceBlock(doc.Custom())
			if doc.Iptc().Equal(orig.Iptc()) && psDoc.Equal(resourceBlock(orig.Custom())) {
				out = append(out, raw...)
				continue
			}
			if err := l.ps.Apply(doc.Iptc(), psDoc); err != nil {
				return nil, err
			}
			if l.ps.Empty() {
				continue
			}
			if out, err = appendSegment(out, s.marker, join(photoshopPrefix, l.ps.Bytes())); err != nil {
				return nil, err
			}
		case kindCustom:
			v, ok := doc.Custom().Get(s.key)
			if !ok {
				continue
			}
			if ov, _ := orig.Custom().Get(s.key); v.Equal(ov) {
				out = append(out, raw...)
				continue
			}
			if out, err = appendSegment(out, s.marker, v.Raw()); err != nil {
				return nil, err
			}
		default:
			out = append(out, raw...)
		}
	}
	if insertAt == len(l.segs) {
		out = append(out, fresh...)
	}
	return append(out, original[l.tail:]...), nil
}

// newSegments builds segments for metadata the original file had no place
// for.
func (c *Codec) newSegments(l *layout, doc *metadata.Document) ([]byte, error) {
	var out []byte
	var err error

	if l.exif == nil && doc.Exif().Len() > 0 {
		tree := tiff.New()
		if err := tree.Apply(doc.Exif()); err != nil {
			return nil, err
		}
		if out, err = appendSegment(out, markerAPP+1, join(exifPrefix, tree.Bytes())); err != nil {
			return nil, err
		}
	}
	if l.xmp == nil && doc.Xmp().Len() > 0 {
		packet, err := xmp.Build(doc.Xmp())
		if err != nil {
			return nil, err
		}
		if out, err = appendSegment(out, markerAPP+1, join(xmpPrefix, packet)); err != nil {
			return nil, err
		}
	}
	psDoc := resourceBlock(doc.Custom())
	if l.ps == nil && (doc.Iptc().Len() > 0 || psDoc.Len() > 0) {
		ps, _ := iptc.Parse(nil)
		if err := ps.Apply(doc.Iptc(), psDoc); err != nil {
			return nil, err
		}
		if !ps.Empty() {
			if out, err = appendSegment(out, markerAPP+13, join(photoshopPrefix, ps.Bytes())); err != nil {
				return nil, err
			}
		}
	}

	for _, key := range doc.Custom().Keys() {
		if _, ok := l.doc.Custom().Get(key); ok || iptc.IsResourceKey(key) {
			continue
		}
		marker, ok := markerFor(key)
		if !ok {
			return nil, apperr.Unsupported("jpeg: encode", "custom key %q has no segment form", key)
		}
		v, _ := doc.Custom().Get(key)
		if out, err = appendSegment(out, marker, v.Raw()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// resourceBlock returns the Photoshop resource keys of custom.
func resourceBlock(custom *metadata.Block) *metadata.Block {
	b := metadata.New(Name).Custom()
	for _, key := range custom.Keys() {
		if iptc.IsResourceKey(key) {
			v, _ := custom.Get(key)
			b.Set(key, v)
		}
	}
	return b
}

func join(prefix, body []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(body))
	return append(append(out, prefix...), body...)
}

// Strip removes metadata according to scope.
func (c *Codec) Strip(original []byte, scope metadata.Scope) ([]byte, error) {
	return codec.StripWith(c, original, scope)
}
