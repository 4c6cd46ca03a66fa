package png

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/text/encoding/charmap"

	"github.com/starford/exifwarden/internal/apperr"
)

const (
	typeIHDR = "IHDR"
	typeIDAT = "IDAT"
	typeIEND = "IEND"
	typeTEXT = "tEXt"
	typeZTXT = "zTXt"
	typeITXT = "iTXt"
	typeEXIF = "eXIf"

	xmpKeyword = "XML:com.adobe.xmp"

	maxChunkLen   = 1<<31 - 1
	maxInflated   = 64 << 20
	maxKeywordLen = 79
)

type kind int

const (
	kindOther kind = iota
	kindXMP
	kindExif
	kindCustom
)

// chunk is one length-prefixed record. start..end covers length, type,
// payload and CRC.
type chunk struct {
	typ        string
	start, end int
	payload    []byte
	crc        uint32
	kind       kind
	key        string
	text       *textChunk
}

func (c *chunk) crcValid() bool {
	return crc32.ChecksumIEEE(append([]byte(c.typ), c.payload...)) == c.crc
}

// scan splits data into chunks up to and including IEND and returns the
// offset of any trailing bytes.
func scan(data []byte) ([]chunk, int, error) {
	if !bytes.HasPrefix(data, signature) {
		return nil, 0, apperr.Format("png: scan", "missing signature")
	}
	var chunks []chunk
	pos := len(signature)
	for {
		if pos+12 > len(data) {
			return nil, 0, apperr.Format("png: scan", "end of file before IEND")
		}
		n := binary.BigEndian.Uint32(data[pos:])
		if n > maxChunkLen {
			return nil, 0, apperr.Format("png: scan", "chunk length %d at %d exceeds limit", n, pos)
		}
		end := pos + 12 + int(n)
		if end > len(data) {
			return nil, 0, apperr.Format("png: scan", "chunk at %d runs past end of file", pos)
		}
		c := chunk{
			typ:     string(data[pos+4 : pos+8]),
			start:   pos,
			end:     end,
			payload: data[pos+8 : end-4],
			crc:     binary.BigEndian.Uint32(data[end-4:]),
		}
		if len(chunks) == 0 && c.typ != typeIHDR {
			return nil, 0, apperr.Format("png: scan", "first chunk is %q, want IHDR", c.typ)
		}
		chunks = append(chunks, c)
		pos = end
		if c.typ == typeIEND {
			return chunks, pos, nil
		}
	}
}

func appendChunk(out []byte, typ string, payload []byte) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))
	start := len(out)
	out = append(out, typ...)
	out = append(out, payload...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out[start:]))
}

// textChunk is a decoded tEXt, zTXt or iTXt payload.
type textChunk struct {
	typ        string
	keyword    string
	text       string
	compressed bool
	lang       string
	translated string
}

func isText(typ string) bool {
	return typ == typeTEXT || typ == typeZTXT || typ == typeITXT
}

func parseText(typ string, payload []byte) (*textChunk, error) {
	kw, rest, ok := bytes.Cut(payload, []byte{0})
	if !ok || len(kw) == 0 || len(kw) > maxKeywordLen {
		return nil, fmt.Errorf("%s: missing or bad keyword separator", typ)
	}
	keyword, err := fromLatin1(kw)
	if err != nil {
		return nil, err
	}
	t := &textChunk{typ: typ, keyword: keyword}

	switch typ {
	case typeTEXT:
		t.text, err = fromLatin1(rest)
		return t, err
	case typeZTXT:
		if len(rest) < 1 || rest[0] != 0 {
			return nil, fmt.Errorf("zTXt: unknown compression method")
		}
		raw, err := inflate(rest[1:])
		if err != nil {
			return nil, err
		}
		t.compressed = true
		t.text, err = fromLatin1(raw)
		return t, err
	}

	if len(rest) < 2 {
		return nil, fmt.Errorf("iTXt: header truncated")
	}
	flag, method := rest[0], rest[1]
	if flag > 1 || (flag == 1 && method != 0) {
		return nil, fmt.Errorf("iTXt: unknown compression %d/%d", flag, method)
	}
	lang, rest, ok := bytes.Cut(rest[2:], []byte{0})
	if !ok {
		return nil, fmt.Errorf("iTXt: missing language tag separator")
	}
	translated, body, ok := bytes.Cut(rest, []byte{0})
	if !ok {
		return nil, fmt.Errorf("iTXt: missing translated keyword separator")
	}
	if flag == 1 {
		if body, err = inflate(body); err != nil {
			return nil, err
		}
	}
	t.compressed = flag == 1
	t.lang = string(lang)
	t.translated = string(translated)
	t.text = string(body)
	return t, nil
}

// encode serialises t in its own chunk type. tEXt and zTXt values that
// Latin-1 cannot hold are written as iTXt.
func (t *textChunk) encode() (string, []byte, error) {
	kw, err := toLatin1(t.keyword)
	if err != nil || len(kw) == 0 || len(kw) > maxKeywordLen {
		return "", nil, fmt.Errorf("keyword %q is not a valid PNG keyword", t.keyword)
	}
	typ := t.typ
	var body []byte
	if typ != typeITXT {
		if body, err = toLatin1(t.text); err != nil {
			typ = typeITXT
		}
	}

	out := append(kw, 0)
	switch typ {
	case typeTEXT:
		return typ, append(out, body...), nil
	case typeZTXT:
		z, err := deflate(body)
		if err != nil {
			return "", nil, err
		}
		return typ, append(append(out, 0), z...), nil
	}

	body = []byte(t.text)
	if t.compressed {
		if body, err = deflate(body); err != nil {
			return "", nil, err
		}
		out = append(out, 1, 0)
	} else {
		out = append(out, 0, 0)
	}
	out = append(out, t.lang...)
	out = append(out, 0)
	out = append(out, t.translated...)
	out = append(out, 0)
	return typ, append(out, body...), nil
}

func inflate(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, maxInflated+1))
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	if len(out) > maxInflated {
		return nil, fmt.Errorf("zlib: inflated text exceeds %d bytes", maxInflated)
	}
	return out, nil
}

func deflate(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fromLatin1(b []byte) (string, error) {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func toLatin1(s string) ([]byte, error) {
	return charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
}
