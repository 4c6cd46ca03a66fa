// Package metadata holds the in-memory metadata model: four ordered
// namespaces and the privacy rules applied to their keys.
package metadata

import "fmt"

// Namespace names one of the four metadata blocks.
type Namespace string

const (
	EXIF   Namespace = "exif"
	IPTC   Namespace = "iptc"
	XMP    Namespace = "xmp"
	Custom Namespace = "custom"
)

// namespaces is the canonical iteration order.
var namespaces = [...]Namespace{EXIF, IPTC, XMP, Custom}

// Namespaces returns the namespaces in iteration order.
func Namespaces() []Namespace {
	out := namespaces
	return out[:]
}

// ParseNamespace validates a namespace name.
func ParseNamespace(s string) (Namespace, error) {
	for _, ns := range namespaces {
		if string(ns) == s {
			return ns, nil
		}
	}
	return "", fmt.Errorf("metadata: unknown namespace %q", s)
}

// KeyRef identifies a key within a namespace.
type KeyRef struct {
	Namespace Namespace
	Key       string
}

func (r KeyRef) String() string { return string(r.Namespace) + "." + r.Key }

// Document is the decoded metadata of one image file.
type Document struct {
	Format string
	blocks [len(namespaces)]*Block
}

// New returns an empty document for the given container format.
func New(format string) *Document {
	d := &Document{Format: format}
	for i, ns := range namespaces {
		d.blocks[i] = newBlock(ns)
	}
	return d
}

// Block returns the block for ns, or nil for an unknown namespace.
func (d *Document) Block(ns Namespace) *Block {
	for i, n := range namespaces {
		if n == ns {
			return d.blocks[i]
		}
	}
	return nil
}

func (d *Document) Exif() *Block   { return d.blocks[0] }
func (d *Document) Iptc() *Block   { return d.blocks[1] }
func (d *Document) Xmp() *Block    { return d.blocks[2] }
func (d *Document) Custom() *Block { return d.blocks[3] }

// Each calls fn for every block in the order exif, iptc, xmp, custom. All
// multi-namespace traversal goes through here.
func (d *Document) Each(fn func(b *Block)) {
	for _, b := range d.blocks {
		fn(b)
	}
}

// Len returns the total number of keys.
func (d *Document) Len() int {
	var n int
	d.Each(func(b *Block) { n += b.Len() })
	return n
}

// IsEmpty reports whether no namespace holds a key.
func (d *Document) IsEmpty() bool { return d.Len() == 0 }

// HasGPSData reports whether any key in any namespace is location data.
func (d *Document) HasGPSData() bool {
	found := false
	d.Each(func(b *Block) {
		for _, k := range b.Keys() {
			if Classify(k) == ClassGPS {
				found = true
				return
			}
		}
	})
	return found
}

// PrivacySensitiveKeys returns every GPS or personal key, in iteration order.
func (d *Document) PrivacySensitiveKeys() []KeyRef {
	var out []KeyRef
	d.Each(func(b *Block) {
		for _, k := range b.Keys() {
			if Classify(k) != ClassNone {
				out = append(out, KeyRef{Namespace: b.ns, Key: k})
			}
		}
	})
	return out
}

// StripNamespace removes all keys of one namespace.
func (d *Document) StripNamespace(ns Namespace) int {
	b := d.Block(ns)
	if b == nil {
		return 0
	}
	return b.Clear()
}

// StripGPSOnly removes GPS keys from every namespace and leaves the rest.
func (d *Document) StripGPSOnly() int {
	var n int
	d.Each(func(b *Block) {
		n += b.DeleteFunc(IsGPSKey)
	})
	return n
}

// StripAll clears every namespace.
func (d *Document) StripAll() int {
	var n int
	d.Each(func(b *Block) { n += b.Clear() })
	return n
}

// Apply runs the strip operation selected by scope.
func (d *Document) Apply(scope Scope) int {
	if scope == ScopeGPSOnly {
		return d.StripGPSOnly()
	}
	return d.StripAll()
}

// Preview lists the keys Apply(scope) would remove without removing them.
func (d *Document) Preview(scope Scope) []KeyRef {
	return d.PreviewKeeping(scope, nil)
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	c := &Document{Format: d.Format}
	for i, b := range d.blocks {
		c.blocks[i] = b.Clone()
	}
	return c
}

func (d *Document) String() string {
	return fmt.Sprintf("Document(%s, exif=%d, iptc=%d, xmp=%d, custom=%d)",
		d.Format, d.blocks[0].Len(), d.blocks[1].Len(), d.blocks[2].Len(), d.blocks[3].Len())
}
