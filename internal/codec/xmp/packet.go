// Package xmp reads the top-level properties of an XMP packet and edits
// them in place, leaving every byte it does not touch as it was.
package xmp

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/starford/exifwarden/internal/apperr"
	"github.com/starford/exifwarden/internal/metadata"
)

const listSep = "; "

type propKind int

const (
	kindSimple propKind = iota
	kindList
	kindStruct
)

type prop struct {
	name       string
	attr       bool
	start, end int
	// inner content span, elements only
	innerStart, innerEnd int
	selfClosing          bool
	kind                 propKind
	container            string
	text                 strings.Builder
	items                []string
	value                string
}

type description struct {
	name       string
	nameEnd    int
	tagEnd     int
	closeStart int
	selfClose  bool
}

// Packet is a parsed XMP packet.
type Packet struct {
	data     []byte
	props    []*prop
	prefixes map[string]string
	desc     *description
}

var attrRe = regexp.MustCompile(`\s+([A-Za-z_][\w.\-]*(?::[\w.\-]+)?)\s*=\s*("[^"]*"|'[^']*')`)

// Parse walks the packet and records every property of every
// rdf:Description, in element or attribute form.
func Parse(data []byte) (*Packet, error) {
	p := &Packet{data: data, prefixes: make(map[string]string)}
	dec := xml.NewDecoder(bytes.NewReader(data))

	var (
		depth     int
		descDepth = -1
		cur       *prop
		inItem    bool
		item      strings.Builder
	)
	for {
		off := int(dec.InputOffset())
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperr.Format("xmp: parse", "%v", err)
		}
		after := int(dec.InputOffset())

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" {
					p.prefixes[a.Name.Local] = a.Value
				}
			}
			selfClosing := after >= 2 && string(data[after-2:after]) == "/>"
			switch {
			case descDepth < 0 && isRDF(t.Name, "Description"):
				descDepth = depth
				name := rawName(data[off:])
				if p.desc == nil {
					p.desc = &description{name: name, nameEnd: off + 1 + len(name), tagEnd: after, selfClose: selfClosing}
				}
				if err := p.attrProps(t, off, after); err != nil {
					return nil, err
				}
			case descDepth >= 0 && depth == descDepth+1:
				cur = &prop{name: rawName(data[off:]), start: off, innerStart: after, selfClosing: selfClosing}
			case cur != nil && depth == descDepth+2:
				if isRDF(t.Name, "Seq") || isRDF(t.Name, "Bag") || isRDF(t.Name, "Alt") {
					if cur.kind == kindSimple {
						cur.kind = kindList
						cur.container = rawName(data[off:])
					}
				} else {
					cur.kind = kindStruct
				}
			case cur != nil && cur.kind == kindList && depth == descDepth+3 && isRDF(t.Name, "li"):
				inItem = true
				item.Reset()
			case cur != nil && depth == descDepth+3:
				cur.kind = kindStruct
			}
		case xml.CharData:
			switch {
			case inItem:
				item.Write(t)
			case cur != nil && depth == descDepth+1:
				cur.text.Write(t)
			}
		case xml.EndElement:
			switch {
			case inItem && depth == descDepth+3:
				cur.items = append(cur.items, item.String())
				inItem = false
			case cur != nil && depth == descDepth+1:
				cur.innerEnd = off
				cur.end = after
				p.finish(cur)
				cur = nil
			case descDepth >= 0 && depth == descDepth:
				if p.desc.closeStart == 0 && !p.desc.selfClose {
					p.desc.closeStart = off
				}
				descDepth = -1
			}
			depth--
		}
	}
	return p, nil
}

func (p *Packet) finish(cur *prop) {
	switch cur.kind {
	case kindList:
		cur.value = strings.Join(cur.items, listSep)
	case kindStruct:
		cur.value = strings.TrimSpace(string(p.data[cur.innerStart:cur.innerEnd]))
	default:
		cur.value = cur.text.String()
	}
	p.props = append(p.props, cur)
}

func (p *Packet) attrProps(t xml.StartElement, off, after int) error {
	matches := attrRe.FindAllSubmatchIndex(p.data[off:after], -1)
	if len(matches) != len(t.Attr) {
		return apperr.Format("xmp: parse", "cannot locate attributes of rdf:Description")
	}
	for i, m := range matches {
		a := t.Attr[i]
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" || a.Name.Space == rdfNS || a.Name.Space == xmlNS || a.Name.Space == "rdf" || a.Name.Space == "xml" {
			continue
		}
		p.props = append(p.props, &prop{
			name:  string(p.data[off+m[2] : off+m[3]]),
			attr:  true,
			start: off + m[0],
			end:   off + m[1],
			value: a.Value,
		})
	}
	return nil
}

func isRDF(n xml.Name, local string) bool {
	return n.Local == local && (n.Space == rdfNS || n.Space == "rdf")
}

// rawName returns the qualified tag name as written, from a slice starting
// at '<'.
func rawName(b []byte) string {
	end := 1
	for end < len(b) {
		c := b[end]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '>' || c == '/' {
			break
		}
		end++
	}
	return string(b[1:end])
}

// keys assigns every property a unique key in document order.
func (p *Packet) keys() []string {
	out := make([]string, len(p.props))
	used := make(map[string]int)
	for i, pr := range p.props {
		key := pr.name
		if n := used[key]; n > 0 {
			key = fmt.Sprintf("%s#%d", key, n)
		}
		used[pr.name]++
		out[i] = key
	}
	return out
}

// Fill adds every property to b.
func (p *Packet) Fill(b *metadata.Block) {
	for i, key := range p.keys() {
		b.SetString(key, p.props[i].value)
	}
}

type edit struct {
	start, end int
	repl       string
}

// Rewrite returns the packet edited to match b. Removed properties are cut,
// changed values replaced and new properties appended to the first
// rdf:Description.
func (p *Packet) Rewrite(b *metadata.Block) ([]byte, error) {
	var edits []edit
	seen := make(map[string]bool)
	for i, key := range p.keys() {
		seen[key] = true
		pr := p.props[i]
		v, ok := b.Get(key)
		if !ok {
			edits = append(edits, p.cut(pr))
			continue
		}
		if v.IsBytes() {
			return nil, apperr.Unsupported("xmp: rewrite", "%s: binary value", key)
		}
		if v.String() == pr.value {
			continue
		}
		e, err := p.replace(pr, v.String())
		if err != nil {
			return nil, apperr.Unsupported("xmp: rewrite", "%s: %v", key, err)
		}
		edits = append(edits, e)
	}

	var added []string
	for _, key := range b.Keys() {
		if !seen[key] {
			added = append(added, key)
		}
	}
	if len(added) > 0 {
		es, err := p.insert(b, added)
		if err != nil {
			return nil, err
		}
		edits = append(edits, es...)
	}

	sort.SliceStable(edits, func(i, j int) bool { return edits[i].start < edits[j].start })
	var out bytes.Buffer
	pos := 0
	for _, e := range edits {
		out.Write(p.data[pos:e.start])
		out.WriteString(e.repl)
		pos = e.end
	}
	out.Write(p.data[pos:])
	return out.Bytes(), nil
}

func (p *Packet) cut(pr *prop) edit {
	start := pr.start
	if !pr.attr {
		for start > 0 && isSpace(p.data[start-1]) {
			start--
		}
	}
	return edit{start: start, end: pr.end}
}

func (p *Packet) replace(pr *prop, value string) (edit, error) {
	if pr.attr {
		return edit{start: pr.start, end: pr.end, repl: " " + pr.name + `="` + escape(value) + `"`}, nil
	}
	switch pr.kind {
	case kindStruct:
		return edit{}, errors.New("structured property cannot be rewritten from text")
	case kindList:
		return edit{start: pr.innerStart, end: pr.innerEnd, repl: listXML(pr.container, value)}, nil
	}
	if pr.selfClosing {
		return edit{start: pr.start, end: pr.end, repl: element(pr.name, value)}, nil
	}
	return edit{start: pr.innerStart, end: pr.innerEnd, repl: escape(value)}, nil
}

func (p *Packet) insert(b *metadata.Block, keys []string) ([]edit, error) {
	if p.desc == nil {
		return nil, apperr.Unsupported("xmp: rewrite", "packet has no rdf:Description")
	}
	var decls, elems strings.Builder
	declared := make(map[string]bool)
	for _, key := range keys {
		prefix, err := splitKey(key)
		if err != nil {
			return nil, err
		}
		if _, ok := p.prefixes[prefix]; !ok && !declared[prefix] {
			uri, known := DefaultPrefix[prefix]
			if !known {
				return nil, apperr.Unsupported("xmp: rewrite", "no namespace known for prefix %q", prefix)
			}
			declared[prefix] = true
			fmt.Fprintf(&decls, ` xmlns:%s="%s"`, prefix, uri)
		}
		v, _ := b.Get(key)
		if v.IsBytes() {
			return nil, apperr.Unsupported("xmp: rewrite", "%s: binary value", key)
		}
		elems.WriteString("\n   ")
		elems.WriteString(element(key, v.String()))
	}

	var edits []edit
	if decls.Len() > 0 {
		edits = append(edits, edit{start: p.desc.nameEnd, end: p.desc.nameEnd, repl: decls.String()})
	}
	if p.desc.selfClose {
		end := p.desc.tagEnd
		edits = append(edits, edit{start: end - 2, end: end, repl: ">" + elems.String() + "\n  </" + p.desc.name + ">"})
	} else {
		edits = append(edits, edit{start: p.desc.closeStart, end: p.desc.closeStart, repl: elems.String() + "\n  "})
	}
	return edits, nil
}

// splitKey validates key and returns its namespace prefix.
func splitKey(key string) (string, error) {
	prefix, local, ok := strings.Cut(key, ":")
	if !ok || prefix == "" || local == "" || strings.ContainsAny(local, "#: ") {
		return "", apperr.Unsupported("xmp: key", "%q is not a prefix:name property", key)
	}
	return prefix, nil
}

func element(name, value string) string {
	return "<" + name + ">" + escape(value) + "</" + name + ">"
}

func listXML(container, value string) string {
	rdf, _, _ := strings.Cut(container, ":")
	if rdf == container {
		rdf = "rdf"
	}
	var sb strings.Builder
	sb.WriteString("<" + container + ">")
	for i, item := range strings.Split(value, listSep) {
		if i == 0 && strings.HasSuffix(container, ":Alt") {
			sb.WriteString("<" + rdf + `:li xml:lang="x-default">` + escape(item) + "</" + rdf + ":li>")
			continue
		}
		sb.WriteString("<" + rdf + ":li>" + escape(item) + "</" + rdf + ":li>")
	}
	sb.WriteString("</" + container + ">")
	return sb.String()
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// Build returns a fresh packet holding every key of b as a simple property.
func Build(b *metadata.Block) ([]byte, error) {
	uris := make(map[string]string)
	for _, key := range b.Keys() {
		prefix, err := splitKey(key)
		if err != nil {
			return nil, err
		}
		uri, ok := DefaultPrefix[prefix]
		if !ok {
			return nil, apperr.Unsupported("xmp: build", "no namespace known for prefix %q", prefix)
		}
		uris[prefix] = uri
	}
	prefixes := make([]string, 0, len(uris))
	for pfx := range uris {
		prefixes = append(prefixes, pfx)
	}
	sort.Strings(prefixes)

	var sb strings.Builder
	sb.WriteString("<?xpacket begin=\"\ufeff\" id=\"W5M0MpCehiHzreSzNTczkc9d\"?>\n")
	sb.WriteString("<x:xmpmeta xmlns:x=\"adobe:ns:meta/\">\n")
	sb.WriteString(" <rdf:RDF xmlns:rdf=\"" + rdfNS + "\">\n")
	sb.WriteString("  <rdf:Description rdf:about=\"\"")
	for _, pfx := range prefixes {
		fmt.Fprintf(&sb, "\n    xmlns:%s=\"%s\"", pfx, uris[pfx])
	}
	sb.WriteString(">")
	for _, key := range b.Keys() {
		v, _ := b.Get(key)
		if v.IsBytes() || !utf8.ValidString(v.String()) {
			return nil, apperr.Unsupported("xmp: build", "%s: binary value", key)
		}
		sb.WriteString("\n   ")
		sb.WriteString(element(key, v.String()))
	}
	sb.WriteString("\n  </rdf:Description>\n </rdf:RDF>\n</x:xmpmeta>\n<?xpacket end=\"w\"?>")
	return []byte(sb.String()), nil
}
