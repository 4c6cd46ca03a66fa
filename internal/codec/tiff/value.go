package tiff

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/starford/exifwarden/internal/metadata"
)

// render turns an entry of kind k into its metadata value. Entries stored in a
// type other than the table's carry that type as a hint.
func (t *Tree) render(k Kind, e Entry) metadata.Value {
	v := t.renderValue(e)
	if info, ok := tableFor(k)[e.Tag]; !ok || info.typ != e.Type {
		v = v.WithHint(TypeName(e.Type))
	}
	return v
}

func (t *Tree) renderValue(e Entry) metadata.Value {
	switch e.Type {
	case TypeASCII:
		return metadata.TextOrBytes([]byte(strings.TrimRight(string(e.Data), "\x00 ")))
	case TypeByte, TypeSByte, TypeUndefined:
		return metadata.Bytes(e.Data)
	}

	size := sizeOf(e.Type)
	parts := make([]string, 0, e.Count)
	for i := 0; i+size <= len(e.Data); i += size {
		p := e.Data[i:]
		switch e.Type {
		case TypeShort:
			parts = append(parts, strconv.FormatUint(uint64(t.order.Uint16(p)), 10))
		case TypeSShort:
			parts = append(parts, strconv.FormatInt(int64(int16(t.order.Uint16(p))), 10))
		case TypeLong:
			parts = append(parts, strconv.FormatUint(uint64(t.order.Uint32(p)), 10))
		case TypeSLong:
			parts = append(parts, strconv.FormatInt(int64(int32(t.order.Uint32(p))), 10))
		case TypeRational:
			parts = append(parts, fmt.Sprintf("%d/%d", t.order.Uint32(p), t.order.Uint32(p[4:])))
		case TypeSRational:
			parts = append(parts, fmt.Sprintf("%d/%d", int32(t.order.Uint32(p)), int32(t.order.Uint32(p[4:]))))
		case TypeFloat:
			f := math.Float32frombits(t.order.Uint32(p))
			parts = append(parts, strconv.FormatFloat(float64(f), 'g', -1, 32))
		case TypeDouble:
			f := math.Float64frombits(t.order.Uint64(p))
			parts = append(parts, strconv.FormatFloat(f, 'g', -1, 64))
		}
	}
	return metadata.String(strings.Join(parts, " "))
}

var errEmpty = errors.New("empty numeric value")

// encode builds an entry of the given type from a rendered value.
func (t *Tree) encode(tag, typ uint16, v metadata.Value) (Entry, error) {
	switch typ {
	case TypeASCII:
		data := append(append([]byte(nil), v.Raw()...), 0)
		return Entry{Tag: tag, Type: typ, Count: uint32(len(data)), Data: data}, nil
	case TypeByte, TypeSByte, TypeUndefined:
		data := append([]byte(nil), v.Raw()...)
		return Entry{Tag: tag, Type: typ, Count: uint32(len(data)), Data: data}, nil
	}

	fields := strings.Fields(v.String())
	if len(fields) == 0 {
		return Entry{}, errEmpty
	}
	var data []byte
	for _, f := range fields {
		var err error
		data, err = t.appendNumber(data, typ, f)
		if err != nil {
			return Entry{}, err
		}
	}
	return Entry{Tag: tag, Type: typ, Count: uint32(len(fields)), Data: data}, nil
}

func (t *Tree) appendNumber(data []byte, typ uint16, f string) ([]byte, error) {
	switch typ {
	case TypeShort:
		n, err := strconv.ParseUint(f, 10, 16)
		if err != nil {
			return nil, err
		}
		return t.order.AppendUint16(data, uint16(n)), nil
	case TypeSShort:
		n, err := strconv.ParseInt(f, 10, 16)
		if err != nil {
			return nil, err
		}
		return t.order.AppendUint16(data, uint16(n)), nil
	case TypeLong:
		n, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, err
		}
		return t.order.AppendUint32(data, uint32(n)), nil
	case TypeSLong:
		n, err := strconv.ParseInt(f, 10, 32)
		if err != nil {
			return nil, err
		}
		return t.order.AppendUint32(data, uint32(n)), nil
	case TypeRational, TypeSRational:
		num, den, ok := strings.Cut(f, "/")
		if !ok {
			den = "1"
		}
		signed := typ == TypeSRational
		for _, s := range []string{num, den} {
			if signed {
				n, err := strconv.ParseInt(s, 10, 32)
				if err != nil {
					return nil, err
				}
				data = t.order.AppendUint32(data, uint32(n))
				continue
			}
			n, err := strconv.ParseUint(s, 10, 32)
			if err != nil {
				return nil, err
			}
			data = t.order.AppendUint32(data, uint32(n))
		}
		return data, nil
	case TypeFloat:
		x, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, err
		}
		return t.order.AppendUint32(data, math.Float32bits(float32(x))), nil
	case TypeDouble:
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		return t.order.AppendUint64(data, math.Float64bits(x)), nil
	}
	return nil, fmt.Errorf("type %d not writable", typ)
}
