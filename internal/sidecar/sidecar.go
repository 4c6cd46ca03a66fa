// Package sidecar exports a metadata document to a JSON or YAML file and
// reads it back. Both forms keep the four namespaces and their key order.
package sidecar

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/exifwarden/internal/apperr"
	"github.com/starford/exifwarden/internal/metadata"
	"github.com/starford/exifwarden/internal/storage"
)

// Format is a sidecar serialisation.
type Format int

const (
	JSON Format = iota
	YAML
)

func (f Format) String() string {
	if f == YAML {
		return "yaml"
	}
	return "json"
}

// FormatFor picks the format from the file extension. Anything other than
// .yaml or .yml is JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	}
	return JSON
}

// Marshal serialises doc.
func Marshal(doc *metadata.Document, f Format) ([]byte, error) {
	if f == YAML {
		return marshalYAML(doc)
	}
	return marshalJSON(doc)
}

// Unmarshal parses a sidecar into a document tagged with format.
func Unmarshal(data []byte, f Format, format string) (*metadata.Document, error) {
	doc := metadata.New(format)
	var err error
	if f == YAML {
		err = unmarshalYAML(data, doc)
	} else {
		err = unmarshalJSON(data, doc)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Write marshals doc in the format implied by path and writes it atomically.
func Write(path string, doc *metadata.Document) error {
	data, err := Marshal(doc, FormatFor(path))
	if err != nil {
		return err
	}
	if err := storage.WriteAtomic(path, data, 0o644); err != nil {
		return apperr.IO("sidecar: write", path, err)
	}
	return nil
}

// Read loads a sidecar file.
func Read(path, format string) (*metadata.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.IO("sidecar: read", path, err)
	}
	doc, err := Unmarshal(data, FormatFor(path), format)
	if err != nil {
		return nil, apperr.Classify("sidecar: read", path, err)
	}
	return doc, nil
}

func blockFor(doc *metadata.Document, name string) (*metadata.Block, error) {
	ns, err := metadata.ParseNamespace(name)
	if err != nil {
		return nil, apperr.Format("sidecar: decode", "%v", err)
	}
	return doc.Block(ns), nil
}

func badValue(ns, key string, err error) error {
	return apperr.Format("sidecar: decode", "%s.%s: %v", ns, key, err)
}

var errBadValue = errors.New("value must be a string or a base64 object")
