package metadata

import orderedmap "github.com/wk8/go-ordered-map/v2"

// Block is one metadata namespace: an insertion-ordered mapping with unique
// keys.
type Block struct {
	ns     Namespace
	values *orderedmap.OrderedMap[string, Value]
}

func newBlock(ns Namespace) *Block {
	return &Block{ns: ns, values: orderedmap.New[string, Value]()}
}

// Namespace returns the namespace this block holds.
func (b *Block) Namespace() Namespace { return b.ns }

// Get returns the value stored under key.
func (b *Block) Get(key string) (Value, bool) {
	return b.values.Get(key)
}

// Set stores v under key. An existing key keeps its position.
func (b *Block) Set(key string, v Value) {
	b.values.Set(key, v)
}

// SetString is shorthand for Set(key, String(s)).
func (b *Block) SetString(key, s string) { b.Set(key, String(s)) }

// Delete removes key and reports whether it was present.
func (b *Block) Delete(key string) bool {
	_, ok := b.values.Delete(key)
	return ok
}

// Keys returns the keys in insertion order.
func (b *Block) Keys() []string {
	out := make([]string, 0, b.values.Len())
	for p := b.values.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Key)
	}
	return out
}

// Len returns the number of keys.
func (b *Block) Len() int { return b.values.Len() }

// Clear removes every key and returns how many were removed.
func (b *Block) Clear() int {
	n := b.values.Len()
	b.values = orderedmap.New[string, Value]()
	return n
}

// DeleteFunc removes every key for which fn returns true.
func (b *Block) DeleteFunc(fn func(key string) bool) int {
	var n int
	for p := b.values.Oldest(); p != nil; {
		next := p.Next()
		if fn(p.Key) {
			b.values.Delete(p.Key)
			n++
		}
		p = next
	}
	return n
}

// Equal reports whether b and o hold the same keys, in the same order, with
// equal values.
func (b *Block) Equal(o *Block) bool {
	if b.values.Len() != o.values.Len() {
		return false
	}
	for p, q := b.values.Oldest(), o.values.Oldest(); p != nil; p, q = p.Next(), q.Next() {
		if p.Key != q.Key || !p.Value.Equal(q.Value) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of b.
func (b *Block) Clone() *Block {
	c := newBlock(b.ns)
	for p := b.values.Oldest(); p != nil; p = p.Next() {
		v := p.Value
		if v.bytes {
			v = Bytes(v.raw).WithHint(v.hint)
		}
		c.Set(p.Key, v)
	}
	return c
}
