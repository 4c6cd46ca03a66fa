package metadata

import "unicode/utf8"

// Value is a metadata value: either text or raw bytes.
type Value struct {
	text  string
	raw   []byte
	bytes bool
	hint  string
}

// String returns a text value.
func String(s string) Value {
	return Value{text: s}
}

// Bytes returns a binary value. The slice is copied.
func Bytes(b []byte) Value {
	c := make([]byte, len(b))
	copy(c, b)
	return Value{raw: c, bytes: true}
}

// TextOrBytes returns a text value when b is valid UTF-8, a binary value
// otherwise.
func TextOrBytes(b []byte) Value {
	if utf8.Valid(b) {
		return String(string(b))
	}
	return Bytes(b)
}

// WithHint returns v annotated with the container type it was stored as,
// such as "ascii" for an EXIF tag whose usual type is numeric.
func (v Value) WithHint(h string) Value {
	v.hint = h
	return v
}

// Hint returns the storage type annotation, or "" for the key's default.
func (v Value) Hint() string { return v.hint }

// IsBytes reports whether v holds binary data.
func (v Value) IsBytes() bool { return v.bytes }

// String returns the text form. Binary values are returned as their raw bytes.
func (v Value) String() string {
	if v.bytes {
		return string(v.raw)
	}
	return v.text
}

// Raw returns the value as bytes.
func (v Value) Raw() []byte {
	if v.bytes {
		return v.raw
	}
	return []byte(v.text)
}

// Equal reports whether two values have the same kind and content. Hints are
// not compared.
func (v Value) Equal(o Value) bool {
	if v.bytes != o.bytes {
		return false
	}
	if v.bytes {
		return string(v.raw) == string(o.raw)
	}
	return v.text == o.text
}
