package metadata

import (
	"fmt"
	"path"
	"strings"
)

// KeepList holds lowercased glob patterns for keys a strip leaves in place.
type KeepList []string

// ParseKeep validates patterns. Matching is case-insensitive and uses
// path.Match syntax against the bare key, e.g. "Make", "exif:*" or "APP?".
func ParseKeep(patterns []string) (KeepList, error) {
	var out KeepList
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("metadata: keep pattern %q: %w", p, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Keeps reports whether key matches one of the patterns.
func (k KeepList) Keeps(key string) bool {
	key = strings.ToLower(key)
	for _, p := range k {
		if ok, _ := path.Match(p, key); ok {
			return true
		}
	}
	return false
}

func (k KeepList) removes(scope Scope, key string) bool {
	return (scope == ScopeAll || IsGPSKey(key)) && !k.Keeps(key)
}

// StripKeeping is Apply(scope) without touching the keys keep matches.
func (d *Document) StripKeeping(scope Scope, keep KeepList) int {
	if len(keep) == 0 {
		return d.Apply(scope)
	}
	var n int
	d.Each(func(b *Block) {
		n += b.DeleteFunc(func(key string) bool { return keep.removes(scope, key) })
	})
	return n
}

// PreviewKeeping lists the keys StripKeeping(scope, keep) would remove.
func (d *Document) PreviewKeeping(scope Scope, keep KeepList) []KeyRef {
	var out []KeyRef
	d.Each(func(b *Block) {
		for _, k := range b.Keys() {
			if keep.removes(scope, k) {
				out = append(out, KeyRef{Namespace: b.ns, Key: k})
			}
		}
	})
	return out
}
