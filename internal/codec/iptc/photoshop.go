// Package iptc reads and writes Photoshop image resource blocks and the
// IPTC-IIM datasets they carry.
package iptc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/starford/exifwarden/internal/apperr"
	"github.com/starford/exifwarden/internal/metadata"
)

// Resource IDs with special handling.
const (
	ResourceIPTC   uint16 = 0x0404
	ResourceDigest uint16 = 0x0425
)

const customPrefix = "PS:"

var signature = []byte("8BIM")

// Resource is one 8BIM image resource block.
type Resource struct {
	ID   uint16
	Name []byte // Pascal string with its padding, as stored
	Data []byte
}

// ParseResources reads a sequence of 8BIM blocks.
func ParseResources(data []byte) ([]Resource, error) {
	var out []Resource
	for pos := 0; pos < len(data); {
		if allZero(data[pos:]) {
			break
		}
		if pos+7 > len(data) || !bytes.Equal(data[pos:pos+4], signature) {
			return nil, apperr.Format("iptc: resources", "missing 8BIM signature at %d", pos)
		}
		id := binary.BigEndian.Uint16(data[pos+4:])
		nameLen := int(data[pos+6]) + 1
		if nameLen%2 == 1 {
			nameLen++
		}
		nameEnd := pos + 6 + nameLen
		if nameEnd+4 > len(data) {
			return nil, apperr.Format("iptc: resources", "resource 0x%04X header truncated", id)
		}
		size := int(binary.BigEndian.Uint32(data[nameEnd:]))
		start := nameEnd + 4
		if size < 0 || start+size > len(data) {
			return nil, apperr.Format("iptc: resources", "resource 0x%04X past end", id)
		}
		out = append(out, Resource{
			ID:   id,
			Name: append([]byte(nil), data[pos+6:nameEnd]...),
			Data: append([]byte(nil), data[start:start+size]...),
		})
		pos = start + size
		if size%2 == 1 {
			pos++
		}
	}
	return out, nil
}

// EncodeResources serialises resource blocks.
func EncodeResources(rs []Resource) []byte {
	var out []byte
	for _, r := range rs {
		out = append(out, signature...)
		out = binary.BigEndian.AppendUint16(out, r.ID)
		if len(r.Name) == 0 {
			out = append(out, 0, 0)
		} else {
			out = append(out, r.Name...)
		}
		out = binary.BigEndian.AppendUint32(out, uint32(len(r.Data)))
		out = append(out, r.Data...)
		if len(r.Data)%2 == 1 {
			out = append(out, 0)
		}
	}
	return out
}

// Photoshop is a parsed image resource section.
type Photoshop struct {
	resources []Resource
	datasets  []Dataset
}

// Parse reads the resources and the IIM datasets of resource 0x0404.
func Parse(data []byte) (*Photoshop, error) {
	rs, err := ParseResources(data)
	if err != nil {
		return nil, err
	}
	p := &Photoshop{resources: rs}
	for _, r := range rs {
		if r.ID == ResourceIPTC {
			ds, err := ParseIIM(r.Data)
			if err != nil {
				return nil, err
			}
			p.datasets = append(p.datasets, ds...)
		}
	}
	return p, nil
}

// ResourceKey returns the custom key for a resource ID.
func ResourceKey(id uint16) string {
	return fmt.Sprintf("%s0x%04X", customPrefix, id)
}

// IsResourceKey reports whether a custom key names a Photoshop resource.
func IsResourceKey(key string) bool {
	return strings.HasPrefix(key, customPrefix)
}

func resourceID(key string) (uint16, bool) {
	s, ok := strings.CutPrefix(key, customPrefix+"0x")
	if !ok {
		return 0, false
	}
	s, _, _ = strings.Cut(s, "#")
	n, err := strconv.ParseUint(s, 16, 16)
	return uint16(n), err == nil
}

func datasetKeys(ds []Dataset) []string {
	out := make([]string, len(ds))
	used := make(map[string]int)
	for i, d := range ds {
		name := DatasetName(d.Record, d.Tag)
		key := name
		if n := used[name]; n > 0 {
			key = fmt.Sprintf("%s#%d", name, n)
		}
		used[name]++
		out[i] = key
	}
	return out
}

// resourceKeys names every resource exposed in custom; the IPTC and digest
// resources get an empty key.
func (p *Photoshop) resourceKeys() []string {
	out := make([]string, len(p.resources))
	used := make(map[string]int)
	for i, r := range p.resources {
		if r.ID == ResourceIPTC || r.ID == ResourceDigest {
			continue
		}
		name := ResourceKey(r.ID)
		key := name
		if n := used[name]; n > 0 {
			key = fmt.Sprintf("%s#%d", name, n)
		}
		used[name]++
		out[i] = key
	}
	return out
}

// Fill adds the datasets to iptc and the other resources to custom.
func (p *Photoshop) Fill(iptc, custom *metadata.Block) {
	for i, key := range datasetKeys(p.datasets) {
		iptc.Set(key, metadata.TextOrBytes(p.datasets[i].Data))
	}
	for i, key := range p.resourceKeys() {
		if key != "" {
			custom.Set(key, metadata.Bytes(p.resources[i].Data))
		}
	}
}

// Apply updates the section from iptc and the PS: keys of custom. The IPTC
// digest is dropped whenever the datasets change.
func (p *Photoshop) Apply(iptc, custom *metadata.Block) error {
	var ds []Dataset
	seen := make(map[string]bool)
	for i, key := range datasetKeys(p.datasets) {
		seen[key] = true
		v, ok := iptc.Get(key)
		if !ok {
			continue
		}
		d := p.datasets[i]
		d.Data = append([]byte(nil), v.Raw()...)
		ds = append(ds, d)
	}
	for _, key := range iptc.Keys() {
		if seen[key] {
			continue
		}
		id, ok := datasetID(key)
		if !ok {
			return apperr.Unsupported("iptc: apply", "no dataset known for key %q", key)
		}
		v, _ := iptc.Get(key)
		ds = append(ds, Dataset{Record: id[0], Tag: id[1], Data: append([]byte(nil), v.Raw()...)})
	}
	sort.SliceStable(ds, func(i, j int) bool { return ds[i].Record < ds[j].Record })

	oldIIM, _ := EncodeIIM(p.datasets)
	newIIM, err := EncodeIIM(ds)
	if err != nil {
		return err
	}
	changed := !bytes.Equal(oldIIM, newIIM)

	var rs []Resource
	hasIPTC := false
	seenRes := make(map[string]bool)
	for i, key := range p.resourceKeys() {
		r := p.resources[i]
		switch r.ID {
		case ResourceIPTC:
			if len(ds) == 0 || hasIPTC {
				continue
			}
			hasIPTC = true
			r.Data = newIIM
		case ResourceDigest:
			continue
		default:
			seenRes[key] = true
			v, ok := custom.Get(key)
			if !ok {
				continue
			}
			r.Data = append([]byte(nil), v.Raw()...)
		}
		rs = append(rs, r)
	}
	if len(ds) > 0 && !hasIPTC {
		rs = append(rs, Resource{ID: ResourceIPTC, Data: newIIM})
	}
	for _, key := range custom.Keys() {
		if !IsResourceKey(key) || seenRes[key] {
			continue
		}
		id, ok := resourceID(key)
		if !ok {
			return apperr.Unsupported("iptc: apply", "bad resource key %q", key)
		}
		v, _ := custom.Get(key)
		rs = append(rs, Resource{ID: id, Data: append([]byte(nil), v.Raw()...)})
	}
	if !changed && len(ds) > 0 {
		rs = p.keepDigest(rs)
	}
	p.resources = rs
	p.datasets = ds
	return nil
}

// keepDigest re-inserts the original digest resource after the IPTC block.
func (p *Photoshop) keepDigest(rs []Resource) []Resource {
	for _, r := range p.resources {
		if r.ID != ResourceDigest {
			continue
		}
		for i, x := range rs {
			if x.ID == ResourceIPTC {
				return append(rs[:i+1], append([]Resource{r}, rs[i+1:]...)...)
			}
		}
	}
	return rs
}

// Empty reports whether no resource is left.
func (p *Photoshop) Empty() bool { return len(p.resources) == 0 }

// Bytes serialises the resource section.
func (p *Photoshop) Bytes() []byte { return EncodeResources(p.resources) }
