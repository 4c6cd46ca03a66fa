package sidecar

import (
	"encoding/base64"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/exifwarden/internal/apperr"
	"github.com/starford/exifwarden/internal/metadata"
)

const binaryTag = "!!binary"

func scalar(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}

func marshalYAML(doc *metadata.Document) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, ns := range metadata.Namespaces() {
		b := doc.Block(ns)
		m := &yaml.Node{Kind: yaml.MappingNode}
		for _, k := range b.Keys() {
			v, _ := b.Get(k)
			m.Content = append(m.Content, scalar("!!str", k), yamlNode(v))
		}
		if len(m.Content) == 0 {
			m.Style = yaml.FlowStyle
		}
		root.Content = append(root.Content, scalar("!!str", string(ns)), m)
	}
	out, err := yaml.Marshal(root)
	if err != nil {
		return nil, apperr.Format("sidecar: encode", "%v", err)
	}
	return out, nil
}

// yamlNode renders v as a scalar, or as a {type, value} mapping when v
// carries a storage type hint.
func yamlNode(v metadata.Value) *yaml.Node {
	val := scalar("!!str", v.String())
	if v.IsBytes() {
		val = scalar(binaryTag, base64.StdEncoding.EncodeToString(v.Raw()))
	}
	if v.Hint() == "" {
		return val
	}
	return &yaml.Node{Kind: yaml.MappingNode, Style: yaml.FlowStyle, Content: []*yaml.Node{
		scalar("!!str", "type"), scalar("!!str", v.Hint()),
		scalar("!!str", "value"), val,
	}}
}

func unmarshalYAML(data []byte, doc *metadata.Document) error {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return apperr.Format("sidecar: decode", "%v", err)
	}
	if root.Kind == 0 {
		return nil
	}
	top := &root
	if top.Kind == yaml.DocumentNode && len(top.Content) == 1 {
		top = top.Content[0]
	}
	if top.Kind != yaml.MappingNode {
		return apperr.Format("sidecar: decode", "top level must be a mapping")
	}
	for i := 0; i+1 < len(top.Content); i += 2 {
		name := top.Content[i].Value
		block, err := blockFor(doc, name)
		if err != nil {
			return err
		}
		m := top.Content[i+1]
		if m.Kind == yaml.ScalarNode && m.Tag == "!!null" {
			continue
		}
		if m.Kind != yaml.MappingNode {
			return apperr.Format("sidecar: decode", "%s must be a mapping", name)
		}
		for j := 0; j+1 < len(m.Content); j += 2 {
			key, val := m.Content[j].Value, m.Content[j+1]
			v, err := yamlValue(val)
			if err != nil {
				return badValue(name, key, err)
			}
			block.Set(key, v)
		}
	}
	return nil
}

func yamlValue(n *yaml.Node) (metadata.Value, error) {
	if n.Kind == yaml.MappingNode {
		return typedYAMLValue(n)
	}
	if n.Kind != yaml.ScalarNode {
		return metadata.Value{}, errBadValue
	}
	switch n.Tag {
	case binaryTag:
		b, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(n.Value), ""))
		if err != nil {
			return metadata.Value{}, err
		}
		return metadata.Bytes(b), nil
	case "!!null":
		return metadata.String(""), nil
	}
	return metadata.String(n.Value), nil
}

func typedYAMLValue(n *yaml.Node) (metadata.Value, error) {
	var hint string
	var val *yaml.Node
	for i := 0; i+1 < len(n.Content); i += 2 {
		switch n.Content[i].Value {
		case "type":
			hint = n.Content[i+1].Value
		case "value":
			val = n.Content[i+1]
		default:
			return metadata.Value{}, errBadValue
		}
	}
	if val == nil || val.Kind != yaml.ScalarNode {
		return metadata.Value{}, errBadValue
	}
	v, err := yamlValue(val)
	if err != nil {
		return metadata.Value{}, err
	}
	return v.WithHint(hint), nil
}
