package xmp

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/exifwarden/internal/apperr"
	"github.com/starford/exifwarden/internal/metadata"
)

const sample = `<?xpacket begin="" id="W5M0MpCehiHzreSzNTczkc9d"?>
<x:xmpmeta xmlns:x="adobe:ns:meta/">
 <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <rdf:Description rdf:about=""
    xmlns:xmp="http://ns.adobe.com/xap/1.0/"
    xmlns:dc="http://purl.org/dc/elements/1.1/"
    xmlns:exif="http://ns.adobe.com/exif/1.0/"
    xmp:CreatorTool="Editor 1.0">
   <dc:creator>
    <rdf:Seq>
     <rdf:li>Jane</rdf:li>
     <rdf:li>John</rdf:li>
    </rdf:Seq>
   </dc:creator>
   <exif:GPSLatitude>40,7.5N</exif:GPSLatitude>
   <xmp:Rating>3</xmp:Rating>
  </rdf:Description>
 </rdf:RDF>
</x:xmpmeta>
<?xpacket end="w"?>`

func parseBlock(t *testing.T, data []byte) (*Packet, *metadata.Block) {
	t.Helper()
	p, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b := metadata.New("test").Xmp()
	p.Fill(b)
	return p, b
}

func values(b *metadata.Block) map[string]string {
	out := make(map[string]string)
	for _, k := range b.Keys() {
		v, _ := b.Get(k)
		out[k] = v.String()
	}
	return out
}

func TestParseProperties(t *testing.T) {
	_, b := parseBlock(t, []byte(sample))
	want := map[string]string{
		"xmp:CreatorTool":  "Editor 1.0",
		"dc:creator":       "Jane; John",
		"exif:GPSLatitude": "40,7.5N",
		"xmp:Rating":       "3",
	}
	if diff := cmp.Diff(want, values(b)); diff != "" {
		t.Errorf("properties mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"xmp:CreatorTool", "dc:creator", "exif:GPSLatitude", "xmp:Rating"}, b.Keys()); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestRewriteUnchangedIsIdentity(t *testing.T) {
	p, b := parseBlock(t, []byte(sample))
	out, err := p.Rewrite(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != sample {
		t.Errorf("unchanged rewrite altered packet:\n%s", out)
	}
}

func TestRewriteRemoveAndChange(t *testing.T) {
	p, b := parseBlock(t, []byte(sample))
	b.Delete("exif:GPSLatitude")
	b.Delete("xmp:CreatorTool")
	b.SetString("xmp:Rating", "5")
	b.SetString("dc:creator", "Anon")

	out, err := p.Rewrite(b)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(out), "GPSLatitude") || strings.Contains(string(out), "CreatorTool") {
		t.Errorf("removed property survived:\n%s", out)
	}
	_, got := parseBlock(t, out)
	want := map[string]string{"dc:creator": "Anon", "xmp:Rating": "5"}
	if diff := cmp.Diff(want, values(got)); diff != "" {
		t.Errorf("rewritten mismatch (-want +got):\n%s", diff)
	}
}

func TestRewriteAddsProperty(t *testing.T) {
	p, b := parseBlock(t, []byte(sample))
	b.SetString("photoshop:City", "Boston & Co")

	out, err := p.Rewrite(b)
	if err != nil {
		t.Fatal(err)
	}
	_, got := parseBlock(t, out)
	if v, ok := got.Get("photoshop:City"); !ok || v.String() != "Boston & Co" {
		t.Errorf("added property = %q, %v\n%s", v.String(), ok, out)
	}
}

func TestRewriteSelfClosingDescription(t *testing.T) {
	in := `<x:xmpmeta xmlns:x="adobe:ns:meta/"><rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"><rdf:Description rdf:about="" xmlns:tiff="http://ns.adobe.com/tiff/1.0/" tiff:Make="Canon"/></rdf:RDF></x:xmpmeta>`
	p, b := parseBlock(t, []byte(in))
	if v, _ := b.Get("tiff:Make"); v.String() != "Canon" {
		t.Fatalf("tiff:Make = %q", v.String())
	}
	b.SetString("dc:title", "Harbour")
	out, err := p.Rewrite(b)
	if err != nil {
		t.Fatal(err)
	}
	_, got := parseBlock(t, out)
	want := map[string]string{"tiff:Make": "Canon", "dc:title": "Harbour"}
	if diff := cmp.Diff(want, values(got)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestRewriteUnknownPrefix(t *testing.T) {
	p, b := parseBlock(t, []byte(sample))
	b.SetString("acme:Thing", "x")
	if _, err := p.Rewrite(b); !errors.Is(err, apperr.ErrUnsupportedFeature) {
		t.Fatalf("err = %v, want unsupported feature", err)
	}
}

func TestBuild(t *testing.T) {
	b := metadata.New("test").Xmp()
	b.SetString("dc:description", "a <b>")
	b.SetString("xmp:Rating", "4")
	data, err := Build(b)
	if err != nil {
		t.Fatal(err)
	}
	_, got := parseBlock(t, data)
	if diff := cmp.Diff(values(b), values(got)); diff != "" {
		t.Errorf("built packet mismatch (-want +got):\n%s", diff)
	}

	bad := metadata.New("test").Xmp()
	bad.SetString("nope", "x")
	if _, err := Build(bad); !errors.Is(err, apperr.ErrUnsupportedFeature) {
		t.Errorf("err = %v, want unsupported feature", err)
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := Parse([]byte("<x:xmpmeta><rdf:RDF>")); err == nil {
		t.Error("expected error for truncated packet")
	}
}
