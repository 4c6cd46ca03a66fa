package sidecar

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/tidwall/jsonc"

	"github.com/starford/exifwarden/internal/apperr"
	"github.com/starford/exifwarden/internal/metadata"
)

// objectValue is the object form of a value: binary data, or text stored in
// a non-default container type.
type objectValue struct {
	Type   string  `json:"type,omitempty"`
	Text   *string `json:"text,omitempty"`
	Base64 *string `json:"base64,omitempty"`
}

// marshalJSON writes the document by hand: encoding/json sorts map keys.
func marshalJSON(doc *metadata.Document) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, ns := range metadata.Namespaces() {
		b := doc.Block(ns)
		writeString(&buf, "  ", string(ns))
		buf.WriteString(": {")
		for j, k := range b.Keys() {
			if j > 0 {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
			writeString(&buf, "    ", k)
			buf.WriteString(": ")
			v, _ := b.Get(k)
			writeValue(&buf, v)
		}
		if b.Len() > 0 {
			buf.WriteString("\n  ")
		}
		buf.WriteByte('}')
		if i < len(metadata.Namespaces())-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v metadata.Value) {
	if !v.IsBytes() && v.Hint() == "" {
		writeString(buf, "", v.String())
		return
	}
	buf.WriteByte('{')
	if h := v.Hint(); h != "" {
		buf.WriteString(`"type": `)
		writeString(buf, "", h)
		buf.WriteString(", ")
	}
	if v.IsBytes() {
		buf.WriteString(`"base64": `)
		writeString(buf, "", base64.StdEncoding.EncodeToString(v.Raw()))
	} else {
		buf.WriteString(`"text": `)
		writeString(buf, "", v.String())
	}
	buf.WriteByte('}')
}

func writeString(buf *bytes.Buffer, indent, s string) {
	buf.WriteString(indent)
	enc, _ := json.Marshal(s)
	buf.Write(enc)
}

// unmarshalJSON accepts comments and trailing commas.
func unmarshalJSON(data []byte, doc *metadata.Document) error {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		name, err := stringToken(dec)
		if err != nil {
			return err
		}
		block, err := blockFor(doc, name)
		if err != nil {
			return err
		}
		if err := expectDelim(dec, '{'); err != nil {
			return err
		}
		for dec.More() {
			key, err := stringToken(dec)
			if err != nil {
				return err
			}
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return apperr.Format("sidecar: decode", "%v", err)
			}
			v, err := jsonValue(raw)
			if err != nil {
				return badValue(name, key, err)
			}
			block.Set(key, v)
		}
		if err := expectDelim(dec, '}'); err != nil {
			return err
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return apperr.Format("sidecar: decode", "trailing data after document")
	}
	return nil
}

func jsonValue(raw json.RawMessage) (metadata.Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return metadata.Value{}, err
		}
		return metadata.String(s), nil
	}
	var ov objectValue
	if len(raw) == 0 || raw[0] != '{' {
		return metadata.Value{}, errBadValue
	}
	if err := json.Unmarshal(raw, &ov); err != nil || (ov.Base64 == nil) == (ov.Text == nil) {
		return metadata.Value{}, errBadValue
	}
	if ov.Text != nil {
		return metadata.String(*ov.Text).WithHint(ov.Type), nil
	}
	b, err := base64.StdEncoding.DecodeString(*ov.Base64)
	if err != nil {
		return metadata.Value{}, err
	}
	return metadata.Bytes(b).WithHint(ov.Type), nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return apperr.Format("sidecar: decode", "%v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return apperr.Format("sidecar: decode", "expected %q, got %v", want, tok)
	}
	return nil
}

func stringToken(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", apperr.Format("sidecar: decode", "%v", err)
	}
	s, ok := tok.(string)
	if !ok {
		return "", apperr.Format("sidecar: decode", "expected key, got %v", tok)
	}
	return s, nil
}
