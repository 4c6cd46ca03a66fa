package iptc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/exifwarden/internal/apperr"
	"github.com/starford/exifwarden/internal/metadata"
)

func sampleSection(t *testing.T) []byte {
	t.Helper()
	iim, err := EncodeIIM([]Dataset{
		{Record: 1, Tag: 90, Data: []byte("\x1b%G")},
		{Record: 2, Tag: 80, Data: []byte("Jane")},
		{Record: 2, Tag: 25, Data: []byte("harbour")},
		{Record: 2, Tag: 25, Data: []byte("boats")},
		{Record: 2, Tag: 90, Data: []byte("Boston")},
	})
	if err != nil {
		t.Fatal(err)
	}
	return EncodeResources([]Resource{
		{ID: 0x03ED, Name: []byte{0, 0}, Data: []byte{0, 0x48, 0, 0, 0, 1, 0}},
		{ID: ResourceIPTC, Name: []byte{0, 0}, Data: iim},
		{ID: ResourceDigest, Name: []byte{0, 0}, Data: bytes.Repeat([]byte{0xAB}, 16)},
	})
}

func TestParseAndFill(t *testing.T) {
	p, err := Parse(sampleSection(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	doc := metadata.New("JPEG")
	p.Fill(doc.Iptc(), doc.Custom())

	want := []string{"CodedCharacterSet", "By-line", "Keywords", "Keywords#1", "City"}
	if diff := cmp.Diff(want, doc.Iptc().Keys()); diff != "" {
		t.Errorf("iptc keys mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"PS:0x03ED"}, doc.Custom().Keys()); diff != "" {
		t.Errorf("custom keys mismatch (-want +got):\n%s", diff)
	}
	if v, _ := doc.Iptc().Get("Keywords#1"); v.String() != "boats" {
		t.Errorf("Keywords#1 = %q", v.String())
	}
}

func TestApplyUnchangedRoundTrips(t *testing.T) {
	in := sampleSection(t)
	p, _ := Parse(in)
	doc := metadata.New("JPEG")
	p.Fill(doc.Iptc(), doc.Custom())
	if err := p.Apply(doc.Iptc(), doc.Custom()); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(in, p.Bytes()) {
		t.Error("unchanged apply altered the section")
	}
}

func TestApplyDropsDigestOnChange(t *testing.T) {
	p, _ := Parse(sampleSection(t))
	doc := metadata.New("JPEG")
	p.Fill(doc.Iptc(), doc.Custom())
	doc.Iptc().Delete("City")
	doc.Iptc().SetString("Headline", "Quay")

	if err := p.Apply(doc.Iptc(), doc.Custom()); err != nil {
		t.Fatal(err)
	}
	reparsed, err := Parse(p.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range reparsed.resources {
		if r.ID == ResourceDigest {
			t.Error("digest survived an IPTC change")
		}
	}
	got := metadata.New("JPEG")
	reparsed.Fill(got.Iptc(), got.Custom())
	if _, ok := got.Iptc().Get("City"); ok {
		t.Error("City survived")
	}
	if v, _ := got.Iptc().Get("Headline"); v.String() != "Quay" {
		t.Errorf("Headline = %q", v.String())
	}
}

func TestApplyStripAllEmpties(t *testing.T) {
	p, _ := Parse(sampleSection(t))
	doc := metadata.New("JPEG")
	p.Fill(doc.Iptc(), doc.Custom())
	doc.StripAll()
	if err := p.Apply(doc.Iptc(), doc.Custom()); err != nil {
		t.Fatal(err)
	}
	if !p.Empty() {
		t.Errorf("resources left: %d", len(p.resources))
	}
}

func TestApplyUnknownKey(t *testing.T) {
	p, _ := Parse(sampleSection(t))
	doc := metadata.New("JPEG")
	doc.Iptc().SetString("Mood", "calm")
	err := p.Apply(doc.Iptc(), doc.Custom())
	if !errors.Is(err, apperr.ErrUnsupportedFeature) {
		t.Fatalf("err = %v, want unsupported feature", err)
	}
	doc = metadata.New("JPEG")
	doc.Iptc().SetString("IIM.2:200", "x")
	if err := p.Apply(doc.Iptc(), doc.Custom()); err != nil {
		t.Fatalf("numeric key rejected: %v", err)
	}
}

func TestParseRejectsTruncated(t *testing.T) {
	data := sampleSection(t)
	if _, err := Parse(data[:len(data)-20]); !errors.Is(err, apperr.ErrFormat) {
		t.Errorf("err = %v, want format error", err)
	}
	if _, err := ParseIIM([]byte{0x1C, 2, 80, 0x80, 0x04, 0, 0, 0, 4}); !errors.Is(err, apperr.ErrUnsupportedFeature) {
		t.Errorf("extended length err = %v", err)
	}
}
