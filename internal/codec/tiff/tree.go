// Package tiff reads and writes the TIFF structure that carries EXIF data:
// IFD0, the Exif, GPS and Interop sub-directories, and the IFD1 thumbnail.
package tiff

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/starford/exifwarden/internal/apperr"
	"github.com/starford/exifwarden/internal/metadata"
)

const maxEntries = 4096

// ThumbnailKey exposes the IFD1 JPEG thumbnail blob.
const ThumbnailKey = "Thumbnail.JPEGData"

// compressionJPEG is the IFD1 Compression value of a JPEG thumbnail.
var compressionJPEG = Entry{Tag: 0x0103, Type: TypeShort, Count: 1}

// Entry is one directory entry. Data holds the value bytes in the tree's
// byte order.
type Entry struct {
	Tag   uint16
	Type  uint16
	Count uint32
	Data  []byte
}

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// Tree is a parsed EXIF TIFF structure. Pointer tags are not stored; Bytes
// recomputes them.
type Tree struct {
	order byteOrder
	dirs  [numKinds][]Entry
	thumb []byte
}

// New returns an empty big-endian tree.
func New() *Tree {
	return &Tree{order: binary.BigEndian}
}

type reader struct {
	data  []byte
	order byteOrder
	seen  map[uint32]bool
}

// Parse walks the directories of a TIFF structure starting at its header.
func Parse(data []byte) (*Tree, error) {
	if len(data) < 8 {
		return nil, apperr.Format("tiff: parse", "header truncated")
	}
	var order byteOrder
	switch string(data[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, apperr.Format("tiff: parse", "bad byte order mark % x", data[:2])
	}
	if order.Uint16(data[2:]) != 42 {
		return nil, apperr.Format("tiff: parse", "bad magic")
	}

	r := &reader{data: data, order: order, seen: make(map[uint32]bool)}
	t := &Tree{order: order}

	entries, ptrs, next, err := r.dir(order.Uint32(data[4:]), IFD0)
	if err != nil {
		return nil, err
	}
	t.dirs[IFD0] = entries

	if off, ok := ptrs[tagExifIFD]; ok {
		exif, sub, _, err := r.dir(off, Exif)
		if err != nil {
			return nil, err
		}
		t.dirs[Exif] = exif
		if ioff, ok := sub[tagInteropIFD]; ok {
			if t.dirs[Interop], _, _, err = r.dir(ioff, Interop); err != nil {
				return nil, err
			}
		}
	}
	if off, ok := ptrs[tagGPSIFD]; ok {
		if t.dirs[GPS], _, _, err = r.dir(off, GPS); err != nil {
			return nil, err
		}
	}
	if next != 0 {
		if err := t.parseThumbnail(r, next); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tree) parseThumbnail(r *reader, off uint32) error {
	entries, ptrs, _, err := r.dir(off, IFD1)
	if err != nil {
		return err
	}
	if _, strips := ptrs[tagStripOff]; strips {
		// Uncompressed strip thumbnails are not relocatable; drop IFD1.
		return nil
	}
	t.dirs[IFD1] = entries
	toff, hasOff := ptrs[tagThumbOff]
	tlen, hasLen := ptrs[tagThumbLen]
	if !hasOff || !hasLen {
		return nil
	}
	end := uint64(toff) + uint64(tlen)
	if end > uint64(len(r.data)) {
		return apperr.Format("tiff: thumbnail", "blob at %d+%d past end", toff, tlen)
	}
	t.thumb = append([]byte(nil), r.data[toff:end]...)
	return nil
}

// dir reads the directory at off. Structural pointer tags are returned
// separately from the entries.
func (r *reader) dir(off uint32, k Kind) ([]Entry, map[uint16]uint32, uint32, error) {
	if r.seen[off] {
		return nil, nil, 0, apperr.Format("tiff: dir", "%s directory at %d visited twice", k, off)
	}
	r.seen[off] = true
	if uint64(off)+2 > uint64(len(r.data)) {
		return nil, nil, 0, apperr.Format("tiff: dir", "%s offset %d past end", k, off)
	}
	n := int(r.order.Uint16(r.data[off:]))
	if n > maxEntries {
		return nil, nil, 0, apperr.Format("tiff: dir", "%s has %d entries", k, n)
	}
	start := int(off) + 2
	if start+n*12+4 > len(r.data) {
		return nil, nil, 0, apperr.Format("tiff: dir", "%s entries past end", k)
	}

	var entries []Entry
	ptrs := make(map[uint16]uint32)
	for i := 0; i < n; i++ {
		p := r.data[start+i*12:]
		tag := r.order.Uint16(p)
		typ := r.order.Uint16(p[2:])
		count := r.order.Uint32(p[4:])
		if isPointer(k, tag) {
			ptrs[tag] = r.order.Uint32(p[8:])
			continue
		}
		size := sizeOf(typ)
		if size == 0 {
			return nil, nil, 0, apperr.Unsupported("tiff: dir", "%s tag 0x%04X has unknown type %d", k, tag, typ)
		}
		total := uint64(size) * uint64(count)
		var val []byte
		if total <= 4 {
			val = p[8 : 8+total]
		} else {
			voff := uint64(r.order.Uint32(p[8:]))
			if voff+total > uint64(len(r.data)) {
				return nil, nil, 0, apperr.Format("tiff: dir", "%s tag 0x%04X value past end", k, tag)
			}
			val = r.data[voff : voff+total]
		}
		entries = append(entries, Entry{Tag: tag, Type: typ, Count: count, Data: append([]byte(nil), val...)})
	}
	next := r.order.Uint32(r.data[start+n*12:])
	return entries, ptrs, next, nil
}

func isPointer(k Kind, tag uint16) bool {
	switch k {
	case IFD0:
		return tag == tagExifIFD || tag == tagGPSIFD
	case Exif:
		return tag == tagInteropIFD
	case IFD1:
		return tag == tagThumbOff || tag == tagThumbLen || tag == tagStripOff
	}
	return false
}

type slot struct {
	kind Kind
	idx  int
	key  string
}

// slots assigns every entry its key, in directory order.
func (t *Tree) slots() []slot {
	var out []slot
	used := make(map[string]int)
	for k := IFD0; k < numKinds; k++ {
		for i, e := range t.dirs[k] {
			key := TagName(k, e.Tag)
			if n := used[key]; n > 0 {
				used[key] = n + 1
				key = fmt.Sprintf("%s#%d", key, n)
			} else {
				used[key] = 1
			}
			out = append(out, slot{kind: k, idx: i, key: key})
		}
	}
	return out
}

// Fill adds every entry to b under its key, then the thumbnail blob.
func (t *Tree) Fill(b *metadata.Block) {
	for _, s := range t.slots() {
		b.Set(s.key, t.render(s.kind, t.dirs[s.kind][s.idx]))
	}
	if t.thumb != nil {
		b.Set(ThumbnailKey, metadata.Bytes(t.thumb))
	}
}

// Apply makes the tree reflect b: entries whose key is gone are removed,
// changed values are re-encoded in their stored type and new keys are added
// in their hinted type, or the tag table's. The thumbnail is kept while
// ThumbnailKey is present. On error the tree is unchanged.
func (t *Tree) Apply(b *metadata.Block) error {
	var dirs [numKinds][]Entry
	seen := map[string]bool{ThumbnailKey: true}
	for _, s := range t.slots() {
		seen[s.key] = true
		v, ok := b.Get(s.key)
		if !ok {
			continue
		}
		e := t.dirs[s.kind][s.idx]
		if !v.Equal(t.renderValue(e)) {
			ne, err := t.encode(e.Tag, e.Type, v)
			if err != nil {
				return apperr.Unsupported("tiff: apply", "%s: %v", s.key, err)
			}
			e = ne
		}
		dirs[s.kind] = append(dirs[s.kind], e)
	}
	for _, key := range b.Keys() {
		if seen[key] {
			continue
		}
		ref, ok := lookup(key)
		if !ok {
			return apperr.Unsupported("tiff: apply", "no tag known for key %q", key)
		}
		v, _ := b.Get(key)
		typ := ref.typ
		if h := v.Hint(); h != "" {
			if typ, ok = ParseTypeName(h); !ok {
				return apperr.Unsupported("tiff: apply", "%s: unknown type %q", key, h)
			}
		}
		if typ == 0 {
			typ = TypeASCII
			if v.IsBytes() {
				typ = TypeUndefined
			}
		}
		e, err := t.encode(ref.tag, typ, v)
		if err != nil {
			return apperr.Unsupported("tiff: apply", "%s: %v", key, err)
		}
		dirs[ref.kind] = append(dirs[ref.kind], e)
	}

	var thumb []byte
	if v, ok := b.Get(ThumbnailKey); ok && len(v.Raw()) > 0 {
		thumb = append([]byte(nil), v.Raw()...)
		if len(dirs[IFD1]) == 0 {
			c := compressionJPEG
			c.Data = t.order.AppendUint16(nil, 6)
			dirs[IFD1] = []Entry{c}
		}
	}
	t.dirs = dirs
	t.thumb = thumb
	return nil
}

// Bytes serialises the tree in its original byte order. Empty
// sub-directories and their pointers are left out.
func (t *Tree) Bytes() []byte {
	var lists [numKinds][]Entry
	hasInterop := len(t.dirs[Interop]) > 0
	hasExif := len(t.dirs[Exif]) > 0 || hasInterop
	hasGPS := len(t.dirs[GPS]) > 0
	hasIFD1 := len(t.dirs[IFD1]) > 0

	lists[IFD0] = append(lists[IFD0], t.dirs[IFD0]...)
	if hasExif {
		lists[IFD0] = append(lists[IFD0], pointer(tagExifIFD))
	}
	if hasGPS {
		lists[IFD0] = append(lists[IFD0], pointer(tagGPSIFD))
	}
	lists[Exif] = append(lists[Exif], t.dirs[Exif]...)
	if hasInterop {
		lists[Exif] = append(lists[Exif], pointer(tagInteropIFD))
	}
	lists[GPS] = append(lists[GPS], t.dirs[GPS]...)
	lists[Interop] = append(lists[Interop], t.dirs[Interop]...)
	if hasIFD1 {
		lists[IFD1] = append(lists[IFD1], t.dirs[IFD1]...)
		if t.thumb != nil {
			lists[IFD1] = append(lists[IFD1], pointer(tagThumbOff), pointer(tagThumbLen))
		}
	}

	present := [numKinds]bool{IFD0: true, Exif: hasExif, GPS: hasGPS, Interop: hasInterop, IFD1: hasIFD1}
	var offs [numKinds]uint32
	off := uint32(8)
	for k := IFD0; k < numKinds; k++ {
		if !present[k] {
			continue
		}
		sort.SliceStable(lists[k], func(i, j int) bool { return lists[k][i].Tag < lists[k][j].Tag })
		offs[k] = off
		off += dirSize(lists[k])
	}
	thumbOff := off

	patch := map[uint16]uint32{
		tagExifIFD:    offs[Exif],
		tagGPSIFD:     offs[GPS],
		tagInteropIFD: offs[Interop],
		tagThumbOff:   thumbOff,
		tagThumbLen:   uint32(len(t.thumb)),
	}
	for k := IFD0; k < numKinds; k++ {
		for i, e := range lists[k] {
			if isPointer(k, e.Tag) {
				d := make([]byte, 4)
				t.order.PutUint32(d, patch[e.Tag])
				lists[k][i].Data = d
			}
		}
	}

	out := make([]byte, 8, int(off)+len(t.thumb))
	if t.order == binary.LittleEndian {
		copy(out, "II")
	} else {
		copy(out, "MM")
	}
	t.order.PutUint16(out[2:], 42)
	t.order.PutUint32(out[4:], 8)
	for k := IFD0; k < numKinds; k++ {
		if !present[k] {
			continue
		}
		var next uint32
		if k == IFD0 && hasIFD1 {
			next = offs[IFD1]
		}
		out = t.writeDir(out, lists[k], next)
	}
	if hasIFD1 && t.thumb != nil {
		out = append(out, t.thumb...)
	}
	return out
}

func pointer(tag uint16) Entry {
	return Entry{Tag: tag, Type: TypeLong, Count: 1, Data: make([]byte, 4)}
}

func dirSize(entries []Entry) uint32 {
	size := uint32(2 + 12*len(entries) + 4)
	for _, e := range entries {
		if len(e.Data) > 4 {
			size += uint32(len(e.Data)+1) &^ 1
		}
	}
	return size
}

func (t *Tree) writeDir(out []byte, entries []Entry, next uint32) []byte {
	base := uint32(len(out))
	dataOff := base + uint32(2+12*len(entries)+4)
	var data []byte

	out = t.order.AppendUint16(out, uint16(len(entries)))
	for _, e := range entries {
		out = t.order.AppendUint16(out, e.Tag)
		out = t.order.AppendUint16(out, e.Type)
		out = t.order.AppendUint32(out, e.Count)
		if len(e.Data) <= 4 {
			var inline [4]byte
			copy(inline[:], e.Data)
			out = append(out, inline[:]...)
			continue
		}
		out = t.order.AppendUint32(out, dataOff+uint32(len(data)))
		data = append(data, e.Data...)
		if len(data)%2 == 1 {
			data = append(data, 0)
		}
	}
	out = t.order.AppendUint32(out, next)
	return append(out, data...)
}
