// Package png implements the metadata codec for PNG chunk streams.
package png

import (
	"bytes"
	"log/slog"
	"strconv"
	"strings"

	"github.com/starford/exifwarden/internal/apperr"
	"github.com/starford/exifwarden/internal/codec"
	"github.com/starford/exifwarden/internal/codec/tiff"
	"github.com/starford/exifwarden/internal/codec/xmp"
	"github.com/starford/exifwarden/internal/metadata"
)

// Name is the format name stored in decoded documents.
const Name = "PNG"

var signature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

// Codec reads and rewrites text and eXIf chunks. All other chunks pass
// through byte for byte.
type Codec struct {
	log *slog.Logger
}

var _ codec.Codec = (*Codec)(nil)

// New returns a PNG codec that reports non-fatal problems to logger.
func New(logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{log: logger}
}

func (c *Codec) Name() string { return Name }

func (c *Codec) Signature() []byte { return signature }

func (c *Codec) Detect(prefix []byte) bool { return bytes.HasPrefix(prefix, signature) }

func (c *Codec) Compression() codec.Compression { return codec.Lossless }

type layout struct {
	chunks []chunk
	tail   int
	exif   *tiff.Tree
	xmp    *xmp.Packet
	doc    *metadata.Document
}

func (c *Codec) parse(data []byte, warn bool) (*layout, error) {
	chunks, tail, err := scan(data)
	if err != nil {
		return nil, err
	}
	l := &layout{chunks: chunks, tail: tail, doc: metadata.New(Name)}
	unsupported := func(feature string, err error) {
		if warn {
			c.log.Warn("png: chunk kept as custom data",
				slog.String("feature", feature),
				slog.String("error", err.Error()))
		}
	}

	used := make(map[string]int)
	custom := func(ch *chunk, name string, v metadata.Value) {
		ch.kind = kindCustom
		ch.key = uniqueKey(used, name)
		l.doc.Custom().Set(ch.key, v)
	}

	for i := range l.chunks {
		ch := &l.chunks[i]
		switch {
		case ch.typ == typeEXIF:
			if l.exif != nil {
				custom(ch, typeEXIF, metadata.Bytes(ch.payload))
				break
			}
			tree, err := tiff.Parse(bytes.TrimPrefix(ch.payload, []byte("Exif\x00\x00")))
			if err != nil {
				unsupported("exif", err)
				custom(ch, typeEXIF, metadata.Bytes(ch.payload))
				break
			}
			ch.kind = kindExif
			l.exif = tree
			tree.Fill(l.doc.Exif())
		case isText(ch.typ):
			t, err := parseText(ch.typ, ch.payload)
			if err != nil {
				unsupported(ch.typ, err)
				custom(ch, rawKeyword(ch.payload, ch.typ), metadata.Bytes(ch.payload))
				break
			}
			ch.text = t
			if t.keyword == xmpKeyword && l.xmp == nil {
				p, err := xmp.Parse([]byte(t.text))
				if err == nil {
					ch.kind = kindXMP
					l.xmp = p
					p.Fill(l.doc.Xmp())
					break
				}
				unsupported("xmp", err)
			}
			custom(ch, t.keyword, metadata.String(t.text))
		}
	}
	return l, nil
}

// rawKeyword names an unparseable text chunk by whatever precedes its first
// NUL, or by its type.
func rawKeyword(payload []byte, typ string) string {
	if kw, _, ok := bytes.Cut(payload, []byte{0}); ok && len(kw) > 0 && len(kw) <= maxKeywordLen {
		if s, err := fromLatin1(kw); err == nil {
			return s
		}
	}
	return typ
}

func uniqueKey(used map[string]int, name string) string {
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	return name + "#" + strconv.Itoa(n)
}

// Decode extracts the metadata of a PNG file.
func (c *Codec) Decode(data []byte) (*metadata.Document, error) {
	l, err := c.parse(data, true)
	if err != nil {
		return nil, err
	}
	return l.doc, nil
}

// Encode rewrites the text and eXIf chunks of original to match doc. Every
// other chunk, and every unchanged one, is copied byte for byte.
func (c *Codec) Encode(original []byte, doc *metadata.Document) ([]byte, error) {
	l, err := c.parse(original, false)
	if err != nil {
		return nil, err
	}
	orig := l.doc

	fresh, err := c.newChunks(l, doc)
	if err != nil {
		return nil, err
	}
	insertAt := len(l.chunks) - 1
	for i, ch := range l.chunks {
		if ch.typ == typeIDAT {
			insertAt = i
			break
		}
	}

	out := make([]byte, 0, len(original))
	out = append(out, signature...)
	for i := range l.chunks {
		ch := &l.chunks[i]
		if i == insertAt {
			out = append(out, fresh...)
		}
		raw := original[ch.start:ch.end]

		switch ch.kind {
		case kindExif:
			if doc.Exif().Equal(orig.Exif()) {
				out = append(out, raw...)
				continue
			}
			if doc.Exif().Len() == 0 {
				continue
			}
			if err := checkCRC(ch); err != nil {
				return nil, err
			}
			if err := l.exif.Apply(doc.Exif()); err != nil {
				return nil, err
			}
			out = appendChunk(out, typeEXIF, l.exif.Bytes())
		case kindXMP:
			if doc.Xmp().Equal(orig.Xmp()) {
				out = append(out, raw...)
				continue
			}
			if doc.Xmp().Len() == 0 {
				continue
			}
			if err := checkCRC(ch); err != nil {
				return nil, err
			}
			packet, err := l.xmp.Rewrite(doc.Xmp())
			if err != nil {
				return nil, err
			}
			t := *ch.text
			t.text = string(packet)
			if out, err = appendText(out, &t); err != nil {
				return nil, err
			}
		case kindCustom:
			v, ok := doc.Custom().Get(ch.key)
			if !ok {
				continue
			}
			if ov, _ := orig.Custom().Get(ch.key); v.Equal(ov) {
				out = append(out, raw...)
				continue
			}
			if err := checkCRC(ch); err != nil {
				return nil, err
			}
			if ch.text == nil {
				out = appendChunk(out, ch.typ, v.Raw())
				continue
			}
			t := *ch.text
			t.text = v.String()
			if out, err = appendText(out, &t); err != nil {
				return nil, err
			}
		default:
			out = append(out, raw...)
		}
	}
	return append(out, original[l.tail:]...), nil
}

func checkCRC(ch *chunk) error {
	if !ch.crcValid() {
		return apperr.Integrity("png: encode", "%s chunk at %d has a bad CRC", ch.typ, ch.start)
	}
	return nil
}

func appendText(out []byte, t *textChunk) ([]byte, error) {
	typ, payload, err := t.encode()
	if err != nil {
		return nil, apperr.Unsupported("png: encode", "%v", err)
	}
	return appendChunk(out, typ, payload), nil
}

// newChunks builds chunks for metadata the original had no place for. They
// are inserted before the first IDAT.
func (c *Codec) newChunks(l *layout, doc *metadata.Document) ([]byte, error) {
	var out []byte
	var err error

	if l.exif == nil && doc.Exif().Len() > 0 {
		tree := tiff.New()
		if err := tree.Apply(doc.Exif()); err != nil {
			return nil, err
		}
		out = appendChunk(out, typeEXIF, tree.Bytes())
	}
	if l.xmp == nil && doc.Xmp().Len() > 0 {
		packet, err := xmp.Build(doc.Xmp())
		if err != nil {
			return nil, err
		}
		if out, err = appendText(out, &textChunk{typ: typeITXT, keyword: xmpKeyword, text: string(packet)}); err != nil {
			return nil, err
		}
	}
	for _, key := range doc.Custom().Keys() {
		if _, ok := l.doc.Custom().Get(key); ok {
			continue
		}
		v, _ := doc.Custom().Get(key)
		keyword, _, _ := strings.Cut(key, "#")
		t := &textChunk{typ: typeTEXT, keyword: keyword, text: v.String()}
		if v.IsBytes() {
			if bytes.IndexByte(v.Raw(), 0) >= 0 {
				return nil, apperr.Unsupported("png: encode", "binary value for %q cannot be stored as text", key)
			}
			if t.text, err = fromLatin1(v.Raw()); err != nil {
				return nil, apperr.Unsupported("png: encode", "%s: %v", key, err)
			}
		}
		if out, err = appendText(out, t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Strip removes metadata according to scope.
func (c *Codec) Strip(original []byte, scope metadata.Scope) ([]byte, error) {
	return codec.StripWith(c, original, scope)
}
